package measure

import (
	"context"
	"sync/atomic"
)

var jobSeq atomic.Uint64

// Job is a single cancellable measurement running on its own goroutine.
type Job struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}

	result *Result
	err    error
}

// StartJob runs fn on a new goroutine with a context derived from parent.
func StartJob(parent context.Context, fn func(ctx context.Context) (*Result, error)) *Job {
	ctx, cancel := context.WithCancel(parent)
	j := &Job{
		id:     jobSeq.Add(1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(j.done)
		defer cancel()
		j.result, j.err = fn(ctx)
	}()
	return j
}

// ID identifies the job; IDs are unique within the process.
func (j *Job) ID() uint64 { return j.id }

// Cancel asks the job to stop. The job's function sees its context end and
// returns at its next check.
func (j *Job) Cancel() { j.cancel() }

// Done is closed when the job's function has returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
