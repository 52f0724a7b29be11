package model

// SizeUnknown marks a ResultRef whose length the server did not declare.
const SizeUnknown int64 = -1

// ResultRef points at one piece of a job's output. Bulk results carry a URL;
// small synchronous results may be held inline and never touch the cache.
type ResultRef struct {
	URL       string
	MediaType string

	// Size is the declared length in bytes, or SizeUnknown.
	Size int64

	// ETag is the server's opaque version token for the resource, when sent.
	ETag string

	// Inline holds the body of a small synchronous result. When non-nil the
	// URL may be empty and the fetcher serves the bytes directly.
	Inline []byte
}

// Inlined reports whether the result body is already held in memory.
func (r ResultRef) Inlined() bool { return r.Inline != nil }
