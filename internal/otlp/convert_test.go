package otlp

import (
	"math"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }
func u64Ptr(u uint64) *uint64   { return &u }
func typePtr(t dto.MetricType) *dto.MetricType { return &t }

func TestConvertGauge(t *testing.T) {
	fam := &dto.MetricFamily{
		Name: strPtr("loxone_control_value"),
		Type: typePtr(dto.MetricType_GAUGE),
		Metric: []*dto.Metric{
			{
				Label: []*dto.LabelPair{{Name: strPtr("name"), Value: strPtr("Kitchen Light")}},
				Gauge: &dto.Gauge{Value: f64Ptr(1.0)},
			},
		},
	}
	rm := Convert([]*dto.MetricFamily{fam}, resource.NewSchemaless(), time.Now())
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	gauge, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 1.0, gauge.DataPoints[0].Value)
}

func TestConvertCounterIsMonotonicCumulativeSum(t *testing.T) {
	fam := &dto.MetricFamily{
		Name: strPtr("loxone_exporter_unknown_state_ids_total"),
		Type: typePtr(dto.MetricType_COUNTER),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: f64Ptr(7)}},
		},
	}
	rm := Convert([]*dto.MetricFamily{fam}, resource.NewSchemaless(), time.Now())
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	assert.True(t, sum.IsMonotonic)
	assert.Equal(t, metricdata.CumulativeTemporality, sum.Temporality)
	assert.Equal(t, 7.0, sum.DataPoints[0].Value)
}

func TestConvertHistogramAppendsOverflowBucketLast(t *testing.T) {
	fam := &dto.MetricFamily{
		Name: strPtr("loxone_otlp_export_duration_seconds"),
		Type: typePtr(dto.MetricType_HISTOGRAM),
		Metric: []*dto.Metric{
			{
				Histogram: &dto.Histogram{
					SampleCount: u64Ptr(10),
					SampleSum:   f64Ptr(12.5),
					Bucket: []*dto.Bucket{
						{UpperBound: f64Ptr(1), CumulativeCount: u64Ptr(3)},
						{UpperBound: f64Ptr(5), CumulativeCount: u64Ptr(8)},
						{UpperBound: f64Ptr(math.Inf(1)), CumulativeCount: u64Ptr(10)},
					},
				},
			},
		},
	}
	rm := Convert([]*dto.MetricFamily{fam}, resource.NewSchemaless(), time.Now())
	hist, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	dp := hist.DataPoints[0]

	assert.Equal(t, []float64{1, 5}, dp.Bounds)
	require.Len(t, dp.BucketCounts, 3)
	assert.Equal(t, []uint64{3, 5, 2}, dp.BucketCounts)
	assert.Equal(t, uint64(10), dp.Count)
}

func TestConvertDropsSummaryFamilies(t *testing.T) {
	fam := &dto.MetricFamily{
		Name: strPtr("some_summary"),
		Type: typePtr(dto.MetricType_SUMMARY),
		Metric: []*dto.Metric{
			{Summary: &dto.Summary{SampleCount: u64Ptr(1), SampleSum: f64Ptr(1)}},
		},
	}
	rm := Convert([]*dto.MetricFamily{fam}, resource.NewSchemaless(), time.Now())
	assert.Empty(t, rm.ScopeMetrics[0].Metrics)
}
