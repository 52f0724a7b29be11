package uws

import (
	"encoding/xml"
	"io"

	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/model"
)

// jobDocument is the job status document returned by async endpoints.
// Elements are matched by local name so uws-prefixed and unprefixed documents
// both parse.
type jobDocument struct {
	XMLName xml.Name      `xml:"job"`
	JobID   string        `xml:"jobId"`
	Phase   string        `xml:"phase"`
	Results []resultElem  `xml:"results>result"`
	Error   *errorSummary `xml:"errorSummary"`
}

type resultElem struct {
	ID       string `xml:"id,attr"`
	Href     string `xml:"href,attr"`
	MimeType string `xml:"mime-type,attr"`
	Size     int64  `xml:"size,attr"`
}

type errorSummary struct {
	Message string `xml:"message"`
}

// parseJobDocument decodes a job status document from r.
func parseJobDocument(r io.Reader) (*jobDocument, error) {
	var doc jobDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse job document")
	}
	return &doc, nil
}

// resultRefs converts the document's result links into model refs.
func (d *jobDocument) resultRefs() []model.ResultRef {
	refs := make([]model.ResultRef, 0, len(d.Results))
	for _, res := range d.Results {
		size := res.Size
		if size == 0 {
			size = model.SizeUnknown
		}
		refs = append(refs, model.ResultRef{
			URL:       res.Href,
			MediaType: res.MimeType,
			Size:      size,
		})
	}
	return refs
}

// errorMessage returns the server's error text verbatim, if any.
func (d *jobDocument) errorMessage() string {
	if d.Error == nil {
		return ""
	}
	return d.Error.Message
}
