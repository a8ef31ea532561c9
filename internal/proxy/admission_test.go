package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireUpToLimit(t *testing.T) {
	a := NewAdmission(2)

	p1, ok := a.TryAcquire()
	require.True(t, ok)
	assert.EqualValues(t, 1, a.ActiveCount())

	p2, ok := a.TryAcquire()
	require.True(t, ok)
	assert.EqualValues(t, 2, a.ActiveCount())

	_, ok = a.TryAcquire()
	assert.False(t, ok, "third acquire must fail at capacity 2")

	p1.Release()
	assert.EqualValues(t, 1, a.ActiveCount())

	p2.Release()
	assert.EqualValues(t, 0, a.ActiveCount())
}

func TestCanAcceptReflectsAvailability(t *testing.T) {
	a := NewAdmission(1)
	assert.True(t, a.CanAccept())

	permit, ok := a.TryAcquire()
	require.True(t, ok)
	assert.False(t, a.CanAccept(), "gate is full while the only permit is held")

	permit.Release()
	assert.True(t, a.CanAccept())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	a := NewAdmission(1)
	first, ok := a.TryAcquire()
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		permit, err := a.Acquire(ctx)
		if err == nil {
			permit.Release()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned before the held permit was released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	a := NewAdmission(1)
	_, ok := a.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Acquire(ctx)
	assert.Error(t, err)
}
