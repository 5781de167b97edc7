// Package presence keeps a presenter's "who is present" view in step with
// the server, either by polling the marks endpoint or by following the
// presence stream. Both paths deliver complete snapshots, and the view is
// replaced wholesale on each one.
package presence

import (
	"sync"

	"attendance/pkg/types"
)

// View is the presenter's current presence list for one session.
type View struct {
	mu       sync.RWMutex
	snapshot types.PresenceSnapshot
	applied  bool
	changed  chan struct{}
}

func NewView(sessionID string) *View {
	return &View{
		snapshot: types.PresenceSnapshot{SessionID: sessionID, Status: types.StatusActive},
		changed:  make(chan struct{}, 1),
	}
}

// Replace swaps in snap. A snapshot taken before the one currently shown
// is ignored, as is one for another session. It reports whether the view
// changed.
func (v *View) Replace(snap types.PresenceSnapshot) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.SessionID != v.snapshot.SessionID {
		return false
	}
	if v.applied && snap.TakenAt.Before(v.snapshot.TakenAt) {
		return false
	}
	if v.snapshot.Status == types.StatusClosed && snap.Status != types.StatusClosed {
		return false
	}

	snap.Entries = append([]types.PresenceEntry(nil), snap.Entries...)
	v.snapshot = snap
	v.applied = true

	select {
	case v.changed <- struct{}{}:
	default:
	}
	return true
}

// Snapshot returns a copy of the current view.
func (v *View) Snapshot() types.PresenceSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := v.snapshot
	out.Entries = append([]types.PresenceEntry(nil), v.snapshot.Entries...)
	return out
}

// Len returns the number of participants currently shown as present.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.snapshot.Entries)
}

// Closed reports whether the view has seen the session close.
func (v *View) Closed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshot.Status == types.StatusClosed
}

// Changed receives a value after one or more replacements. Bursts coalesce.
func (v *View) Changed() <-chan struct{} {
	return v.changed
}

// MarkClosed flags the view closed without changing its entries. The first
// call signals Changed like a replacement does.
func (v *View) MarkClosed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snapshot.Status == types.StatusClosed {
		return
	}
	v.snapshot.Status = types.StatusClosed

	select {
	case v.changed <- struct{}{}:
	default:
	}
}
