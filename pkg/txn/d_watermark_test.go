package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoneTillWaitsForTheLowestPendingVersion(t *testing.T) {
	mark := NewWaterMark(0)
	defer mark.Stop()

	mark.Begin(1)
	mark.Begin(2)
	mark.Begin(3)
	mark.Done(3)
	mark.Done(2)
	assert.Never(t, func() bool { return mark.DoneTill() > 0 }, 20*time.Millisecond, 5*time.Millisecond)

	mark.Done(1)
	require.NoError(t, mark.WaitFor(context.Background(), 3))
	assert.Equal(t, uint64(3), mark.DoneTill())
}

func TestWaitForReturnsImmediatelyForDoneVersions(t *testing.T) {
	mark := NewWaterMark(7)
	defer mark.Stop()

	assert.NoError(t, mark.WaitFor(context.Background(), 7))
	assert.NoError(t, mark.WaitFor(context.Background(), 2))
}

func TestWaitForHonoursTheContext(t *testing.T) {
	mark := NewWaterMark(0)
	defer mark.Stop()
	mark.Begin(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mark.WaitFor(ctx, 1), context.DeadlineExceeded)
}

func TestStopReleasesWaiters(t *testing.T) {
	mark := NewWaterMark(0)
	mark.Begin(1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mark.WaitFor(context.Background(), 1)
	}()
	time.Sleep(10 * time.Millisecond)
	mark.Stop()
	mark.Stop()

	assert.Equal(t, DbAlreadyStoppedErr, <-errCh)

	// calls after stop do not block
	mark.Begin(2)
	mark.Done(2)
	assert.Equal(t, DbAlreadyStoppedErr, mark.WaitFor(context.Background(), 5))
}
