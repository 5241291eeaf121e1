package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/config"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/metrics"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/mirror"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/otlp"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/structure"
)

func newTestCollector() *metrics.Collector {
	var filter metrics.Filter
	_ = filter.Compile()
	return metrics.NewCollector(mirror.NewRegistry(), metrics.Options{Filter: filter})
}

func registryWithConnection(name string, connected bool) *mirror.Registry {
	m := mirror.New(name)
	m.ReplaceStructure(&structure.Structure{Controls: map[string]*structure.Control{}})
	m.SetConnected(connected)
	reg := mirror.NewRegistry()
	reg.Add(m)
	return reg
}

func TestHealthzAllConnectedIsHealthy(t *testing.T) {
	reg := registryWithConnection("home", true)
	h := NewHealthzHandler(reg, newTestCollector(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Miniservers, 1)
	assert.True(t, resp.Miniservers[0].Connected)
}

func TestHealthzNoneConnectedIsUnhealthy(t *testing.T) {
	reg := registryWithConnection("home", false)
	h := NewHealthzHandler(reg, newTestCollector(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestHealthzSomeConnectedIsDegraded(t *testing.T) {
	m1 := mirror.New("a")
	m1.SetConnected(true)
	m2 := mirror.New("b")
	m2.SetConnected(false)
	reg := mirror.NewRegistry()
	reg.Add(m1)
	reg.Add(m2)

	h := NewHealthzHandler(reg, newTestCollector(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestHealthzIncludesOTLPSectionWhenEnabled(t *testing.T) {
	reg := registryWithConnection("home", true)
	reg2 := prometheus.NewRegistry()
	exp := &fakeLoopExporter{}
	_, health := otlp.NewLoop(config.OpenTelemetry{Enabled: true, IntervalSeconds: 30, TimeoutSeconds: 10}, reg2, exp, resource.NewSchemaless(), reg2, nil)

	h := NewHealthzHandler(reg, newTestCollector(), health)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.OTLP)
	assert.Equal(t, "idle", resp.OTLP.State)
}

type fakeLoopExporter struct{}

func (fakeLoopExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (fakeLoopExporter) Shutdown(context.Context) error                           { return nil }
