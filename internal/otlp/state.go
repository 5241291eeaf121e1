// Package otlp implements the periodic OTLP push pipeline: on each tick it
// gathers the same Prometheus metric families the scrape endpoint would
// serialize, converts them to the OTLP data model, and transmits them to a
// configured collector with bounded retry and self-health telemetry.
package otlp

import (
	"sync"
	"time"
)

// State is the small tagged enum the push loop reports both as an integer
// gauge value and as a lowercase string in /healthz.
type State int

const (
	StateDisabled State = iota
	StateIdle
	StateExporting
	StateRetrying
	StateFailed
)

// String returns the lowercase healthz representation of s.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateExporting:
		return "exporting"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxConsecutiveFailures is the streak length at which the loop latches
// into StateFailed until the next scheduled tick resets it (spec.md §4.6).
const maxConsecutiveFailures = 10

// Health is the self-health record the push loop maintains and /healthz
// reads. All access goes through its methods; the zero value reports
// StateDisabled.
type Health struct {
	mu                  sync.RWMutex
	state               State
	consecutiveFailures int
	lastSuccess         time.Time
	lastError           string
}

// Snapshot is a point-in-time, race-free copy of Health for /healthz.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastError           string
}

func (h *Health) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Snapshot{
		State:               h.state,
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccess:         h.lastSuccess,
		LastError:           h.lastError,
	}
}

func (h *Health) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *Health) recordSuccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastSuccess = now
	h.lastError = ""
	h.state = StateIdle
}

// recordFailure increments the streak and returns it alongside whether the
// loop has now latched into StateFailed.
func (h *Health) recordFailure(err error) (streak int, latched bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastError = err.Error()
	if h.consecutiveFailures >= maxConsecutiveFailures {
		h.state = StateFailed
		return h.consecutiveFailures, true
	}
	h.state = StateRetrying
	return h.consecutiveFailures, false
}

// resetIfFailed clears a latched FAILED state back to IDLE at the start of
// a new scheduled tick (spec.md §4.6 step 1).
func (h *Health) resetIfFailed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateFailed {
		h.consecutiveFailures = 0
		h.state = StateIdle
	}
}
