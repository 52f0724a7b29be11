// Package model holds the wire-level types shared between the job protocol,
// result fetcher and downloader packages.
package model

import (
	"strings"
	"time"
)

// Mode selects between synchronous and asynchronous query execution.
type Mode string

// Execution modes.
const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Phase is the server-reported lifecycle state of a job.
type Phase string

// Job phases. Servers report free-text phase names; anything unrecognized is
// mapped to PhaseUnknown and treated as terminal by callers.
const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"
	PhaseUnknown   Phase = "UNKNOWN"
)

// phaseRank orders phases so polls can enforce forward-only movement.
var phaseRank = map[Phase]int{
	PhasePending:   0,
	PhaseQueued:    1,
	PhaseExecuting: 2,
	PhaseCompleted: 3,
	PhaseError:     3,
	PhaseAborted:   3,
	PhaseUnknown:   3,
}

// ParsePhase maps server phase text onto the closed Phase enum. Unrecognized
// text yields PhaseUnknown; it never fails.
func ParsePhase(s string) Phase {
	switch p := Phase(strings.ToUpper(strings.TrimSpace(s))); p {
	case PhasePending, PhaseQueued, PhaseExecuting, PhaseCompleted, PhaseError, PhaseAborted:
		return p
	default:
		return PhaseUnknown
	}
}

// Terminal reports whether the phase is final. PhaseUnknown is terminal: the
// poll loop must not spin on a phase it cannot interpret.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseAborted, PhaseUnknown:
		return true
	default:
		return false
	}
}

// Rank returns the position of the phase in the forward-only ordering.
func (p Phase) Rank() int {
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return phaseRank[PhaseUnknown]
}

// Job represents one query execution tracked by a remote service. It is
// mutated only by the polling step and becomes immutable once the phase is
// terminal.
type Job struct {
	// ID is the server-assigned job identifier. For sync jobs the client
	// synthesizes one, since the server never materializes a job resource.
	ID string

	Mode         Mode
	Phase        Phase
	OutputFormat string

	// RowLimit is the MAXREC ceiling requested at submission; 0 means the
	// server default applies.
	RowLimit int64

	// Truncated reports whether a sync result was cut off at the row ceiling.
	// nil means the server gave no signal either way.
	Truncated *bool

	SubmittedAt  time.Time
	LastPolledAt time.Time

	Results      []ResultRef
	ErrorMessage string
}

// Terminal reports whether the job has reached a final phase.
func (j *Job) Terminal() bool { return j.Phase.Terminal() }
