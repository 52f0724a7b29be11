// Package hook runs optional user-supplied Tengo scripts around cache
// transfers, e.g. to register freshly verified products with a pipeline.
package hook

// Type identifies when a hook runs.
type Type string

// Supported hook points.
const (
	// PreFetch runs before a transfer starts.
	PreFetch Type = "pre-fetch"
	// PostFetch runs after a transfer completes.
	PostFetch Type = "post-fetch"
	// PostVerify runs after an entry passes verification.
	PostVerify Type = "post-verify"
)

// Context carries transfer details into a hook script.
type Context struct {
	URL       string
	LocalPath string
	Size      int64
	ETag      string
	Vars      map[string]interface{}
}

// Executor runs hook scripts.
type Executor interface {
	// Execute runs the script registered for the hook point, if any.
	Execute(hookType Type, ctx Context) error

	// AddScript registers or replaces the script for a hook point.
	AddScript(hookType Type, script string)

	// HasScript reports whether a script is registered for a hook point.
	HasScript(hookType Type) bool
}
