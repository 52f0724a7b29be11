package model

// TableFormat identifies the serialization of an upload table.
type TableFormat string

// Supported upload serializations.
const (
	FormatVOTable TableFormat = "votable"
	FormatCSV     TableFormat = "csv"
)

// UploadTable is a table submitted alongside a query and referenced from the
// query text under the upload namespace (UPLOAD.<name>). Exactly one of Path
// or Columns/Rows must be set: Path points at a file already in a supported
// serialization, Columns/Rows carry an in-memory table that gets encoded on
// the fly.
type UploadTable struct {
	Path   string
	Format TableFormat

	Columns []string
	Rows    [][]string
}

// InMemory reports whether the table is carried in memory rather than read
// from a local file.
func (t *UploadTable) InMemory() bool { return t.Path == "" }
