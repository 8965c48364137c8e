package measure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobResult(t *testing.T) {
	j := StartJob(context.Background(), func(ctx context.Context) (*Result, error) {
		return &Result{DistanceMeters: 2}, nil
	})
	r, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, r.DistanceMeters)
}

func TestJobCancel(t *testing.T) {
	started := make(chan struct{})
	j := StartJob(context.Background(), func(ctx context.Context) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	j.Cancel()

	select {
	case <-j.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job ignored cancellation")
	}
	_, err := j.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJobIDsAreUnique(t *testing.T) {
	noop := func(context.Context) (*Result, error) { return nil, nil }
	a := StartJob(context.Background(), noop)
	b := StartJob(context.Background(), noop)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestJobWaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	j := StartJob(context.Background(), func(context.Context) (*Result, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := j.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
