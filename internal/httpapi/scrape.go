// Package httpapi serves the exporter's two HTTP endpoints: the Prometheus
// scrape surface and the liveness/readiness probe consumed by orchestrators.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// promTextContentType is the exposition format /metrics always serves,
// independent of the request's Accept header.
const promTextContentType = string(expfmt.FmtText)

// ScrapeHandler serves GET /metrics by gathering reg and writing the
// Prometheus text exposition format. A gather failure (a panicking or
// inconsistent Collector) increments loxone_exporter_scrape_errors_total
// and yields a 500 instead of a half-written body.
type ScrapeHandler struct {
	gatherer     prometheus.Gatherer
	scrapeErrors prometheus.Counter
}

// NewScrapeHandler returns a ScrapeHandler reading from gatherer. If reg is
// non-nil, the handler registers its own error counter onto it.
func NewScrapeHandler(gatherer prometheus.Gatherer, reg prometheus.Registerer) *ScrapeHandler {
	errs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loxone_exporter_scrape_errors_total",
		Help: "Number of /metrics requests that failed while gathering metric families.",
	})
	if reg != nil {
		reg.MustRegister(errs)
	}
	return &ScrapeHandler{gatherer: gatherer, scrapeErrors: errs}
}

func (h *ScrapeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := h.gatherer.Gather()
	if err != nil {
		h.scrapeErrors.Inc()
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "error gathering metrics: %v\n", err)
		return
	}

	w.Header().Set("Content-Type", promTextContentType)
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			h.scrapeErrors.Inc()
			return
		}
	}
}
