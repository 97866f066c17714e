package wavefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSyncTimeout reports a row that waited too long for the row above.
var ErrSyncTimeout = errors.New("wavefront: row sync timeout")

// RowSync tracks how many LCUs every row has committed. Waiters take an
// atomic fast path when the row is far enough ahead and otherwise block
// on a channel that is closed and replaced at each signal.
type RowSync struct {
	rows    []rowState
	timeout time.Duration
}

// rowState is padded to a cache line to prevent false sharing.
type rowState struct {
	done    atomic.Int32
	waiters atomic.Int32
	mu      sync.Mutex
	ch      chan struct{}
	_       [24]byte
}

// NewRowSync returns progress counters for n rows. A zero timeout waits
// for ever.
func NewRowSync(n int, timeout time.Duration) *RowSync {
	rs := &RowSync{rows: make([]rowState, n), timeout: timeout}
	for i := range rs.rows {
		rs.rows[i].ch = make(chan struct{})
	}
	return rs
}

// Reset clears every counter. No goroutine may be waiting.
func (rs *RowSync) Reset() {
	for i := range rs.rows {
		rs.rows[i].done.Store(0)
	}
}

// Done returns the committed count of row i.
func (rs *RowSync) Done(i int) int32 { return rs.rows[i].done.Load() }

// Wait blocks until row i has committed at least needed LCUs, ctx is
// done or the timeout expires.
func (rs *RowSync) Wait(ctx context.Context, i int, needed int32) error {
	r := &rs.rows[i]
	if r.done.Load() >= needed {
		return nil
	}
	r.waiters.Add(1)
	defer r.waiters.Add(-1)

	var expired <-chan time.Time
	if rs.timeout > 0 {
		t := time.NewTimer(rs.timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		r.mu.Lock()
		ch := r.ch
		r.mu.Unlock()
		if r.done.Load() >= needed {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return fmt.Errorf("%w: row %d has %d of %d LCUs after %v", ErrSyncTimeout, i, r.done.Load(), needed, rs.timeout)
		}
	}
}

// Signal publishes that row i has committed done LCUs and wakes its
// waiters.
func (rs *RowSync) Signal(i int, done int32) {
	r := &rs.rows[i]
	r.done.Store(done)
	if r.waiters.Load() > 0 {
		r.mu.Lock()
		close(r.ch)
		r.ch = make(chan struct{})
		r.mu.Unlock()
	}
}
