package sync

import (
	"sync/atomic"
)

// SyncState is the phase of the current, or last, reconciliation.
type SyncState uint32

const (
	Idle SyncState = iota
	ComparingSnapshot
	Walking
	Fetching
	Merging
	Converged
	Error
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ComparingSnapshot:
		return "ComparingSnapshot"
	case Walking:
		return "Walking"
	case Fetching:
		return "Fetching"
	case Merging:
		return "Merging"
	case Converged:
		return "Converged"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

type state struct {
	state   uint32
	syncing int32
}

func (s *state) getState() SyncState {
	return SyncState(atomic.LoadUint32(&s.state))
}

func (s *state) setState(st SyncState) {
	atomic.StoreUint32(&s.state, uint32(st))
}

// begin marks a reconciliation as running. It returns false if one already
// is.
func (s *state) begin() bool {
	return atomic.CompareAndSwapInt32(&s.syncing, 0, 1)
}

func (s *state) end() {
	atomic.StoreInt32(&s.syncing, 0)
}

func (s *state) isSyncing() bool {
	return atomic.LoadInt32(&s.syncing) == 1
}
