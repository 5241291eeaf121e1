package otlp

import (
	"math"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// scopeName is the instrumentation scope attached to every exported metric,
// per spec.md §4.6 step 3.
const scopeName = "loxone_exporter"

// Convert translates the scrape model (the same []*dto.MetricFamily the
// scrape endpoint would serialize) into the OTLP push model. The scrape
// path remains the authoritative model; this is a one-way projection of it
// (spec.md's Design Notes §9).
//
// Gauges (including info-style gauges, which are plain gauges in the
// client_golang model already) become OTLP Gauges. Counters become
// monotonic cumulative Sums. Histograms become cumulative Histograms with
// the overflow (+Inf) bucket appended last. Summary families have no
// defined OTLP mapping in this system and are dropped.
func Convert(families []*dto.MetricFamily, res *resource.Resource, now time.Time) *metricdata.ResourceMetrics {
	scope := instrumentation.Scope{Name: scopeName}
	metrics := make([]metricdata.Metrics, 0, len(families))

	for _, fam := range families {
		m, ok := convertFamily(fam, now)
		if ok {
			metrics = append(metrics, m)
		}
	}

	return &metricdata.ResourceMetrics{
		Resource: res,
		ScopeMetrics: []metricdata.ScopeMetrics{
			{Scope: scope, Metrics: metrics},
		},
	}
}

func convertFamily(fam *dto.MetricFamily, now time.Time) (metricdata.Metrics, bool) {
	name := fam.GetName()
	out := metricdata.Metrics{Name: name, Description: fam.GetHelp()}

	switch fam.GetType() {
	case dto.MetricType_GAUGE, dto.MetricType_UNTYPED:
		out.Data = convertGauge(fam, now)
	case dto.MetricType_COUNTER:
		out.Data = convertSum(fam, now)
	case dto.MetricType_HISTOGRAM:
		out.Data = convertHistogram(fam, now)
	default:
		// Summaries have no OTLP mapping defined for this system.
		return metricdata.Metrics{}, false
	}
	return out, true
}

func convertGauge(fam *dto.MetricFamily, now time.Time) metricdata.Gauge[float64] {
	points := make([]metricdata.DataPoint[float64], 0, len(fam.Metric))
	for _, m := range fam.Metric {
		value := m.GetGauge().GetValue()
		if fam.GetType() == dto.MetricType_UNTYPED {
			value = m.GetUntyped().GetValue()
		}
		points = append(points, metricdata.DataPoint[float64]{
			Attributes: attrSet(m.Label),
			Time:       now,
			Value:      value,
		})
	}
	return metricdata.Gauge[float64]{DataPoints: points}
}

func convertSum(fam *dto.MetricFamily, now time.Time) metricdata.Sum[float64] {
	points := make([]metricdata.DataPoint[float64], 0, len(fam.Metric))
	for _, m := range fam.Metric {
		points = append(points, metricdata.DataPoint[float64]{
			Attributes: attrSet(m.Label),
			Time:       now,
			Value:      m.GetCounter().GetValue(),
		})
	}
	return metricdata.Sum[float64]{
		DataPoints:  points,
		Temporality: metricdata.CumulativeTemporality,
		IsMonotonic: true,
	}
}

func convertHistogram(fam *dto.MetricFamily, now time.Time) metricdata.Histogram[float64] {
	points := make([]metricdata.HistogramDataPoint[float64], 0, len(fam.Metric))
	for _, m := range fam.Metric {
		h := m.GetHistogram()
		bounds, bucketCounts := histogramBuckets(h)
		points = append(points, metricdata.HistogramDataPoint[float64]{
			Attributes:   attrSet(m.Label),
			Time:         now,
			Count:        h.GetSampleCount(),
			Bounds:       bounds,
			BucketCounts: bucketCounts,
			Sum:          h.GetSampleSum(),
		})
	}
	return metricdata.Histogram[float64]{
		DataPoints:  points,
		Temporality: metricdata.CumulativeTemporality,
	}
}

// histogramBuckets converts client_golang's cumulative bucket representation
// into OTLP's explicit bounds + per-bucket (non-cumulative) counts, with the
// +Inf overflow bucket appended last, per spec.md §4.6 step 3.
func histogramBuckets(h *dto.Histogram) (bounds []float64, counts []uint64) {
	buckets := append([]*dto.Bucket(nil), h.GetBucket()...)
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].GetUpperBound() < buckets[j].GetUpperBound()
	})

	bounds = make([]float64, 0, len(buckets))
	cumulative := make([]uint64, 0, len(buckets))
	for _, b := range buckets {
		if math.IsInf(b.GetUpperBound(), 1) {
			continue
		}
		bounds = append(bounds, b.GetUpperBound())
		cumulative = append(cumulative, b.GetCumulativeCount())
	}

	counts = make([]uint64, len(cumulative)+1)
	var prev uint64
	for i, c := range cumulative {
		counts[i] = c - prev
		prev = c
	}
	counts[len(cumulative)] = h.GetSampleCount() - prev
	return bounds, counts
}

func attrSet(labels []*dto.LabelPair) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		kvs = append(kvs, attribute.String(l.GetName(), l.GetValue()))
	}
	return attribute.NewSet(kvs...)
}

// CountDataPoints sums the data points across every metric in rm, used to
// advance loxone_otlp_exported_metrics_total on a successful cycle.
func CountDataPoints(rm *metricdata.ResourceMetrics) int {
	total := 0
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch d := m.Data.(type) {
			case metricdata.Gauge[float64]:
				total += len(d.DataPoints)
			case metricdata.Sum[float64]:
				total += len(d.DataPoints)
			case metricdata.Histogram[float64]:
				total += len(d.DataPoints)
			}
		}
	}
	return total
}
