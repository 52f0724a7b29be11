package download

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/virgo-archive/tapir/pkg/errors"
)

// Outcome pairs one request with its result. Callers correlate by request,
// not by completion order.
type Outcome struct {
	Request Request
	Entry   *Entry
	Err     error
}

// FetchAllOptions control a batched fetch.
type FetchAllOptions struct {
	// MaxParallel caps concurrent transfers; <=0 means a default of 4.
	MaxParallel int

	// FailFast cancels outstanding transfers after the first failure. The
	// default reports partial success per item instead: one failed transfer
	// never takes its siblings down.
	FailFast bool
}

// FetchAll downloads the given requests with bounded parallelism and returns
// one outcome per request, in request order. The returned error is non-nil
// only in FailFast mode, carrying the first failure.
func (m *Manager) FetchAll(ctx context.Context, reqs []Request, opts FetchAllOptions) ([]Outcome, error) {
	parallel := opts.MaxParallel
	if parallel <= 0 {
		parallel = 4
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(parallel))
	outcomes := make([]Outcome, len(reqs))
	done := make(chan int, len(reqs))

	for i, req := range reqs {
		outcomes[i] = Outcome{Request: req}
		go func(i int, req Request) {
			defer func() { done <- i }()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i].Err = err
				return
			}
			defer sem.Release(1)
			entry, err := m.Fetch(ctx, req)
			outcomes[i].Entry = entry
			outcomes[i].Err = err
		}(i, req)
	}

	var firstErr error
	for range reqs {
		i := <-done
		if err := outcomes[i].Err; err != nil && opts.FailFast && firstErr == nil {
			firstErr = errors.Wrapf(err, "fetch of %s failed", outcomes[i].Request.URL)
			cancel()
		}
	}
	if opts.FailFast {
		return outcomes, firstErr
	}
	return outcomes, nil
}
