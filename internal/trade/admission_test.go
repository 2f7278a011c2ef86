package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullbackbot/internal/ports"
)

func TestAdmissionCapacityOne(t *testing.T) {
	a := NewAdmission(1)
	ctx := context.Background()

	tok, ok := a.TryAcquire(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, 1, a.Held())

	_, ok = a.TryAcquire(ctx, 0)
	assert.False(t, ok, "second acquire must fail while the slot is held")

	require.NoError(t, tok.Release())
	assert.Equal(t, 0, a.Held())

	_, ok = a.TryAcquire(ctx, 0)
	assert.True(t, ok, "slot must be reusable after release")
}

func TestAdmissionCapacityFloor(t *testing.T) {
	a := NewAdmission(0)
	assert.Equal(t, 1, a.Capacity())
	a = NewAdmission(-3)
	assert.Equal(t, 1, a.Capacity())
}

func TestAdmissionCapacityN(t *testing.T) {
	a := NewAdmission(3)
	ctx := context.Background()

	tokens := make([]*Token, 0, 3)
	for i := 0; i < 3; i++ {
		tok, ok := a.TryAcquire(ctx, 0)
		require.True(t, ok)
		tokens = append(tokens, tok)
	}
	_, ok := a.TryAcquire(ctx, 0)
	assert.False(t, ok)

	for _, tok := range tokens {
		require.NoError(t, tok.Release())
	}
	assert.Equal(t, 0, a.Held())
}

func TestAdmissionDoubleReleaseIsInvariantViolation(t *testing.T) {
	a := NewAdmission(1)
	tok, ok := a.TryAcquire(context.Background(), 0)
	require.True(t, ok)

	require.NoError(t, tok.Release())
	err := tok.Release()
	require.ErrorIs(t, err, ports.ErrInvariantViolation)
	require.ErrorIs(t, err, ports.ErrTokenNotHeld)
	assert.Equal(t, 0, a.Held(), "double release must not corrupt the slot count")
}

func TestAdmissionBoundedWait(t *testing.T) {
	a := NewAdmission(1)
	ctx := context.Background()

	tok, ok := a.TryAcquire(ctx, 0)
	require.True(t, ok)

	start := time.Now()
	_, ok = a.TryAcquire(ctx, 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// A waiter gets the slot when it frees up inside the timeout.
	go func() {
		time.Sleep(20 * time.Millisecond)
		tok.Release()
	}()
	tok2, ok := a.TryAcquire(ctx, time.Second)
	require.True(t, ok)
	require.NoError(t, tok2.Release())
}

func TestAdmissionRespectsContextCancellation(t *testing.T) {
	a := NewAdmission(1)
	tok, ok := a.TryAcquire(context.Background(), 0)
	require.True(t, ok)
	defer tok.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, ok = a.TryAcquire(ctx, 10*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the wait short")
}

// Balanced acquire/release under contention: the held count never exceeds
// capacity and drains to zero.
func TestAdmissionConcurrentBalance(t *testing.T) {
	const capacity = 2
	a := NewAdmission(capacity)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tok, ok := a.TryAcquire(context.Background(), 10*time.Millisecond)
				if !ok {
					continue
				}
				held := a.Held()
				if held > capacity {
					t.Errorf("held %d tokens with capacity %d", held, capacity)
				}
				tok.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, a.Held())
}
