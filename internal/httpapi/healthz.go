package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/metrics"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/mirror"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/otlp"
)

// MiniserverHealth is one entry of the /healthz miniservers array.
type MiniserverHealth struct {
	Name               string    `json:"name"`
	Connected          bool      `json:"connected"`
	LastUpdate         time.Time `json:"last_update"`
	ControlsDiscovered int       `json:"controls_discovered"`
	ControlsExported   int       `json:"controls_exported"`
}

// OTLPHealth reports the push loop's self-health, omitted entirely when
// OTLP is disabled.
type OTLPHealth struct {
	State               string    `json:"state"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthzResponse is the JSON body of GET /healthz.
type HealthzResponse struct {
	Status      string             `json:"status"`
	Miniservers []MiniserverHealth `json:"miniservers"`
	OTLP        *OTLPHealth        `json:"otlp,omitempty"`
}

// HealthzHandler serves GET /healthz: healthy (200) iff every configured
// miniserver is connected, unhealthy (503) iff none are, degraded (200)
// otherwise — including an otherwise-healthy base with OTLP latched into
// failed.
type HealthzHandler struct {
	source     metrics.MirrorSource
	projector  *metrics.Collector
	otlpHealth *otlp.Health // nil when OTLP push is disabled
}

// NewHealthzHandler returns a HealthzHandler. otlpHealth may be nil.
func NewHealthzHandler(source metrics.MirrorSource, projector *metrics.Collector, otlpHealth *otlp.Health) *HealthzHandler {
	return &HealthzHandler{source: source, projector: projector, otlpHealth: otlpHealth}
}

func (h *HealthzHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshots := h.source.Snapshots()

	resp := HealthzResponse{Miniservers: make([]MiniserverHealth, 0, len(snapshots))}
	connected := 0
	for _, snap := range snapshots {
		if snap.Connected {
			connected++
		}
		resp.Miniservers = append(resp.Miniservers, h.miniserverHealth(snap))
	}

	otlpFailed := false
	if h.otlpHealth != nil {
		s := h.otlpHealth.Snapshot()
		resp.OTLP = &OTLPHealth{
			State:               s.State.String(),
			LastSuccess:         s.LastSuccess,
			ConsecutiveFailures: s.ConsecutiveFailures,
			LastError:           s.LastError,
		}
		otlpFailed = s.State == otlp.StateFailed
	}

	status := http.StatusOK
	switch {
	case connected == 0:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case connected == len(snapshots) && !otlpFailed:
		resp.Status = "healthy"
	default:
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HealthzHandler) miniserverHealth(snap mirror.Snapshot) MiniserverHealth {
	discovered, exported := h.projector.Counts(snap)
	return MiniserverHealth{
		Name:               snap.Name,
		Connected:          snap.Connected,
		LastUpdate:         snap.LastUpdate,
		ControlsDiscovered: discovered,
		ControlsExported:   exported,
	}
}
