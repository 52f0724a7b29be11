// Package upload serializes query-time auxiliary tables into multipart form
// bodies. The table becomes addressable from the query text as
// UPLOAD.<name>.
package upload

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/model"
)

// UploadParam is the form field that declares the upload table reference.
const UploadParam = "UPLOAD"

// Encode writes the upload declaration and the table body into w. All
// validation happens before anything is written, so a failed encode never
// leaves a half-built submission: the caller can drop the whole body.
func Encode(w *multipart.Writer, t *model.UploadTable, name string) error {
	if t == nil {
		return nil
	}
	if name == "" {
		return errors.Wrap(errors.ErrUnsupportedTableFormat, "upload table needs a name")
	}
	if err := validate(t); err != nil {
		return err
	}

	if err := w.WriteField(UploadParam, fmt.Sprintf("%s,param:%s", name, name)); err != nil {
		return errors.Wrap(err, "failed to write upload field")
	}
	part, err := w.CreateFormFile(name, partFilename(t, name))
	if err != nil {
		return errors.Wrap(err, "failed to create upload part")
	}

	if t.InMemory() {
		return encodeInMemory(part, t)
	}
	f, err := os.Open(t.Path)
	if err != nil {
		return errors.Wrapf(err, "failed to open upload table %s", t.Path)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(part, f); err != nil {
		return errors.Wrap(err, "failed to copy upload table")
	}
	return nil
}

func validate(t *model.UploadTable) error {
	if t.InMemory() {
		if len(t.Columns) == 0 {
			return errors.Wrap(errors.ErrUnsupportedTableFormat, "in-memory table has no columns")
		}
		for i, row := range t.Rows {
			if len(row) != len(t.Columns) {
				return errors.Wrapf(errors.ErrUnsupportedTableFormat, "row %d has %d cells, want %d", i, len(row), len(t.Columns))
			}
		}
		switch t.Format {
		case "", model.FormatVOTable, model.FormatCSV:
			return nil
		default:
			return errors.Wrapf(errors.ErrUnsupportedTableFormat, "cannot serialize in-memory table as %q", t.Format)
		}
	}

	format := t.Format
	if format == "" {
		format = formatFromExtension(t.Path)
	}
	switch format {
	case model.FormatVOTable, model.FormatCSV:
	default:
		return errors.Wrapf(errors.ErrUnsupportedTableFormat, "file %s has unrecognized table format", t.Path)
	}
	if _, err := os.Stat(t.Path); err != nil {
		return errors.Wrapf(err, "upload table %s not readable", t.Path)
	}
	return nil
}

func formatFromExtension(path string) model.TableFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vot", ".votable", ".xml":
		return model.FormatVOTable
	case ".csv":
		return model.FormatCSV
	default:
		return ""
	}
}

func partFilename(t *model.UploadTable, name string) string {
	if !t.InMemory() {
		return filepath.Base(t.Path)
	}
	if t.Format == model.FormatCSV {
		return name + ".csv"
	}
	return name + ".vot"
}

func encodeInMemory(w io.Writer, t *model.UploadTable) error {
	if t.Format == model.FormatCSV {
		cw := csv.NewWriter(w)
		if err := cw.Write(t.Columns); err != nil {
			return errors.Wrap(err, "failed to write csv header")
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return errors.Wrap(err, "failed to write csv rows")
		}
		cw.Flush()
		return errors.Wrap(cw.Error(), "failed to flush csv")
	}
	return writeVOTable(w, t)
}

// Minimal VOTable document. All columns are typed as unbounded char; the
// receiving service casts inside the query.
type voTable struct {
	XMLName xml.Name  `xml:"VOTABLE"`
	Version string    `xml:"version,attr"`
	Fields  []voField `xml:"RESOURCE>TABLE>FIELD"`
	Rows    []voRow   `xml:"RESOURCE>TABLE>DATA>TABLEDATA>TR"`
}

type voField struct {
	Name      string `xml:"name,attr"`
	Datatype  string `xml:"datatype,attr"`
	Arraysize string `xml:"arraysize,attr"`
}

type voRow struct {
	Cells []string `xml:"TD"`
}

func writeVOTable(w io.Writer, t *model.UploadTable) error {
	doc := voTable{Version: "1.4"}
	for _, col := range t.Columns {
		doc.Fields = append(doc.Fields, voField{Name: col, Datatype: "char", Arraysize: "*"})
	}
	for _, row := range t.Rows {
		doc.Rows = append(doc.Rows, voRow{Cells: row})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return errors.Wrap(err, "failed to write votable header")
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "failed to encode votable")
	}
	return errors.Wrap(enc.Close(), "failed to finish votable")
}
