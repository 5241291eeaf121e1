// Package mirror holds the live, per-Miniserver in-memory reflection of
// every control's current value. Exactly one session runner writes to a
// given Mirror; the metric projector and OTLP push loop only ever read it.
package mirror

import (
	"sync"
	"time"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/structure"
)

// Mirror is the per-Miniserver state container described in spec.md §3 as
// MirrorSnapshot. Its controls/rooms/categories/index are replaced wholesale
// on every successful (re)connection; StateEntry values inside the current
// structure are mutated in place under single-writer discipline.
type Mirror struct {
	Name string

	mu        sync.RWMutex
	structure *structure.Structure
	connected bool
	lastUpdate time.Time

	unknownStateIDs uint64
}

// New returns an empty Mirror for the named Miniserver. It holds an empty
// structure (no controls, rooms, categories or index entries) until the
// session runner completes its first successful connection.
func New(name string) *Mirror {
	return &Mirror{Name: name, structure: &structure.Structure{
		Controls:   map[string]*structure.Control{},
		Rooms:      map[string]structure.Room{},
		Categories: map[string]structure.Category{},
		StateIndex: map[string]structure.StateRef{},
	}}
}

// ReplaceStructure installs a freshly parsed Structure, discarding the
// previous one. Existing readers holding a reference to the old Structure
// (via Snapshot) continue to see a consistent, if stale, view of it.
func (m *Mirror) ReplaceStructure(s *structure.Structure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structure = s
}

// SetConnected records whether the session runner is currently inside its
// receive loop. It must be cleared on every exception path before the
// backoff sleep.
func (m *Mirror) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// ApplyValueUpdate writes value into the StateEntry owning stateID, if
// known. It reports whether the id resolved. Callers advance LastUpdate
// themselves once per batch, not per record.
func (m *Mirror) ApplyValueUpdate(stateID string, value float64) bool {
	m.mu.RLock()
	entry := m.lookupLocked(stateID)
	m.mu.RUnlock()
	if entry == nil {
		m.mu.Lock()
		m.unknownStateIDs++
		m.mu.Unlock()
		return false
	}
	v := value
	m.mu.Lock()
	entry.Value = &v
	m.mu.Unlock()
	return true
}

// ApplyTextUpdate writes text into the StateEntry owning stateID, if known.
func (m *Mirror) ApplyTextUpdate(stateID string, text string) bool {
	m.mu.RLock()
	entry := m.lookupLocked(stateID)
	m.mu.RUnlock()
	if entry == nil {
		m.mu.Lock()
		m.unknownStateIDs++
		m.mu.Unlock()
		return false
	}
	t := text
	m.mu.Lock()
	entry.Text = &t
	m.mu.Unlock()
	return true
}

// lookupLocked resolves a state id to its StateEntry via the reverse index,
// scanning sub-controls of top-level controls when the owning control isn't
// itself top-level. Caller must hold at least a read lock.
func (m *Mirror) lookupLocked(stateID string) *structure.StateEntry {
	ref, ok := m.structure.StateIndex[stateID]
	if !ok {
		return nil
	}
	if ctrl, ok := m.structure.Controls[ref.ControlID]; ok {
		return ctrl.States[ref.StateName]
	}
	for _, top := range m.structure.Controls {
		if entry := findSubControlState(top, ref.ControlID, ref.StateName); entry != nil {
			return entry
		}
	}
	return nil
}

func findSubControlState(ctrl *structure.Control, controlID, stateName string) *structure.StateEntry {
	for _, sub := range ctrl.SubControls {
		if sub.ID == controlID {
			return sub.States[stateName]
		}
		if entry := findSubControlState(sub, controlID, stateName); entry != nil {
			return entry
		}
	}
	return nil
}

// AdvanceLastUpdate sets LastUpdate to now. Called once per successfully
// applied VALUE batch, never while disconnected.
func (m *Mirror) AdvanceLastUpdate(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUpdate = now
}

// Snapshot is a read-only, consistent-enough-per-entry view of a Mirror for
// the projector to walk. It is cheap: only the top-level fields are copied;
// the structure pointer is shared (safe because it is only ever replaced,
// never mutated, by ReplaceStructure).
type Snapshot struct {
	Name            string
	Structure       *structure.Structure
	Connected       bool
	LastUpdate      time.Time
	UnknownStateIDs uint64
}

// Snapshot returns a point-in-time view suitable for projection. It never
// blocks on network I/O and completes in O(1).
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Name:            m.Name,
		Structure:       m.structure,
		Connected:       m.connected,
		LastUpdate:      m.lastUpdate,
		UnknownStateIDs: m.unknownStateIDs,
	}
}
