// Package metrics projects mirror snapshots into Prometheus metric
// families, implementing prometheus.Collector the way the Cloud Monitoring
// exporter projects its own shard state on every scrape rather than
// maintaining a push-model registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/mirror"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/structure"
)

var controlLabels = []string{"miniserver", "name", "room", "category", "type", "subcontrol"}

var (
	controlValueDesc = prometheus.NewDesc(
		"loxone_control_value",
		"Current numeric value of a Miniserver control state.",
		controlLabels, nil,
	)
	controlInfoDesc = prometheus.NewDesc(
		"loxone_control_info",
		"Current text value of a Miniserver control state, carried as the value label; synthetic metric value is always 1.",
		append(append([]string{}, controlLabels...), "value"), nil,
	)
	controlsDiscoveredDesc = prometheus.NewDesc(
		"loxone_exporter_controls_discovered",
		"Number of controls found in the last parsed structure, including sub-controls.",
		[]string{"miniserver"}, nil,
	)
	controlsExportedDesc = prometheus.NewDesc(
		"loxone_exporter_controls_exported",
		"Number of controls surviving exclusion filters in this scrape.",
		[]string{"miniserver"}, nil,
	)
	exporterConnectedDesc = prometheus.NewDesc(
		"loxone_exporter_connected",
		"Whether the exporter currently holds a live websocket session to the Miniserver (1) or not (0).",
		[]string{"miniserver"}, nil,
	)
	lastUpdateDesc = prometheus.NewDesc(
		"loxone_exporter_last_update_timestamp_seconds",
		"Unix timestamp of the last successfully applied state update from the Miniserver.",
		[]string{"miniserver"}, nil,
	)
	unknownStateDesc = prometheus.NewDesc(
		"loxone_exporter_unknown_state_ids_total",
		"Number of VALUE/TEXT updates received for a state id absent from the current structure.",
		[]string{"miniserver"}, nil,
	)
	exporterUpDesc = prometheus.NewDesc(
		"loxone_exporter_up",
		"Constant 1, present whenever the process is able to serve a scrape.",
		nil, nil,
	)
	scrapeDurationDesc = prometheus.NewDesc(
		"loxone_exporter_scrape_duration_seconds",
		"Wall-clock time spent producing this scrape's metric families.",
		nil, nil,
	)
	buildInfoDesc = prometheus.NewDesc(
		"loxone_exporter_build_info",
		"Build metadata of the running exporter binary; value is always 1.",
		[]string{"version", "commit", "build_date"}, nil,
	)
)

// BuildInfo carries the version metadata surfaced by loxone_exporter_build_info.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Filter decides which controls are excluded from projection, by room name,
// control type, or control name, each matched against a list of shell
// globs (e.g. "Guest *").
type Filter struct {
	ExcludeRooms []string
	ExcludeTypes []string
	ExcludeNames []string

	excludeRooms []glob.Glob
	excludeTypes []glob.Glob
	excludeNames []glob.Glob
}

// Compile pre-parses the glob patterns. It must be called once before the
// Filter is passed to NewCollector; an uncompiled, zero-value Filter
// behaves as "exclude nothing".
func (f *Filter) Compile() error {
	var err error
	if f.excludeRooms, err = compileAll(f.ExcludeRooms); err != nil {
		return fmt.Errorf("compile exclude_rooms: %w", err)
	}
	if f.excludeTypes, err = compileAll(f.ExcludeTypes); err != nil {
		return fmt.Errorf("compile exclude_types: %w", err)
	}
	if f.excludeNames, err = compileAll(f.ExcludeNames); err != nil {
		return fmt.Errorf("compile exclude_names: %w", err)
	}
	return nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func (f *Filter) excluded(roomName, controlType, controlName string) bool {
	return matchesAny(f.excludeRooms, roomName) ||
		matchesAny(f.excludeTypes, controlType) ||
		matchesAny(f.excludeNames, controlName)
}

func matchesAny(globs []glob.Glob, value string) bool {
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}

// MirrorSource supplies the live state for every configured Miniserver.
type MirrorSource interface {
	Snapshots() []mirror.Snapshot
}

// Collector implements prometheus.Collector by walking every Mirror's
// current Structure on each scrape. It holds no state of its own beyond
// configuration: there is nothing to reset between scrapes.
type Collector struct {
	source            MirrorSource
	filter            Filter
	includeTextValues bool
	build             BuildInfo
}

// Options configures a Collector beyond its MirrorSource.
type Options struct {
	Filter            Filter
	IncludeTextValues bool
	Build             BuildInfo
}

// NewCollector returns a Collector reading from source. opts.Filter must
// already be Compile()d.
func NewCollector(source MirrorSource, opts Options) *Collector {
	return &Collector{
		source:            source,
		filter:            opts.Filter,
		includeTextValues: opts.IncludeTextValues,
		build:             opts.Build,
	}
}

// Describe sends the static set of metric descriptors. Per-control labels
// mean we cannot send every possible series ahead of time, which is fine:
// client_golang only uses Describe for the unchecked-collector conflict
// check, not completeness.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- controlValueDesc
	ch <- controlInfoDesc
	ch <- controlsDiscoveredDesc
	ch <- controlsExportedDesc
	ch <- exporterConnectedDesc
	ch <- lastUpdateDesc
	ch <- unknownStateDesc
	ch <- exporterUpDesc
	ch <- scrapeDurationDesc
	ch <- buildInfoDesc
}

// Collect walks every Mirror snapshot and emits control_value/control_info
// series plus per-miniserver and process-level health metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	start := time.Now()

	for _, snap := range c.source.Snapshots() {
		c.collectSnapshot(ch, snap)
	}

	ch <- prometheus.MustNewConstMetric(exporterUpDesc, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(buildInfoDesc, prometheus.GaugeValue, 1,
		c.build.Version, c.build.Commit, c.build.BuildDate)
	ch <- prometheus.MustNewConstMetric(scrapeDurationDesc, prometheus.GaugeValue, time.Since(start).Seconds())
}

func (c *Collector) collectSnapshot(ch chan<- prometheus.Metric, snap mirror.Snapshot) {
	connected := 0.0
	if snap.Connected {
		connected = 1.0
	}
	ch <- prometheus.MustNewConstMetric(exporterConnectedDesc, prometheus.GaugeValue, connected, snap.Name)
	ch <- prometheus.MustNewConstMetric(lastUpdateDesc, prometheus.GaugeValue, float64(snap.LastUpdate.Unix()), snap.Name)
	ch <- prometheus.MustNewConstMetric(unknownStateDesc, prometheus.CounterValue, float64(snap.UnknownStateIDs), snap.Name)

	discovered, exported := 0, 0
	if snap.Structure != nil {
		for _, ctrl := range snap.Structure.Controls {
			d, e := c.collectControl(ch, snap.Name, ctrl)
			discovered += d
			exported += e
		}
	}
	ch <- prometheus.MustNewConstMetric(controlsDiscoveredDesc, prometheus.GaugeValue, float64(discovered), snap.Name)
	ch <- prometheus.MustNewConstMetric(controlsExportedDesc, prometheus.GaugeValue, float64(exported), snap.Name)
}

// Counts returns the discovered/exported control counts for snap under the
// collector's current filters: the same traversal Collect uses, without
// emitting metric samples. /healthz uses it to report per-miniserver
// control counts outside of a scrape.
func (c *Collector) Counts(snap mirror.Snapshot) (discovered, exported int) {
	if snap.Structure == nil {
		return 0, 0
	}
	for _, ctrl := range snap.Structure.Controls {
		d, e := c.countControl(ctrl)
		discovered += d
		exported += e
	}
	return discovered, exported
}

func (c *Collector) countControl(ctrl *structure.Control) (discovered, exported int) {
	discovered = 1
	if c.filter.excluded(ctrl.RoomName, ctrl.Type, ctrl.Name) {
		for _, sub := range ctrl.SubControls {
			d, _ := c.countControl(sub)
			discovered += d
		}
		return discovered, 0
	}
	if ctrl.TextOnly {
		return discovered, 1
	}
	for _, state := range ctrl.States {
		if state.Value != nil {
			exported = 1
			break
		}
	}
	for _, sub := range ctrl.SubControls {
		d, e := c.countControl(sub)
		discovered += d
		exported += e
	}
	return discovered, exported
}

// collectControl emits series for ctrl and recurses into its sub-controls,
// returning the (discovered, exported) control counts for this subtree.
func (c *Collector) collectControl(ch chan<- prometheus.Metric, msName string, ctrl *structure.Control) (discovered, exported int) {
	discovered = 1
	if c.filter.excluded(ctrl.RoomName, ctrl.Type, ctrl.Name) {
		for _, sub := range ctrl.SubControls {
			d, _ := c.collectControl(ch, msName, sub)
			discovered += d
		}
		return discovered, 0
	}
	if ctrl.TextOnly {
		if c.includeTextValues {
			for _, state := range ctrl.States {
				if state.Text == nil {
					continue
				}
				ch <- prometheus.MustNewConstMetric(controlInfoDesc, prometheus.GaugeValue, 1.0,
					msName, ctrl.Name, ctrl.RoomName, ctrl.CategoryName, ctrl.Type, state.Name, *state.Text)
			}
		}
		return discovered, 1
	}

	for _, state := range ctrl.States {
		if state.Value == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(controlValueDesc, prometheus.GaugeValue, *state.Value,
			msName, ctrl.Name, ctrl.RoomName, ctrl.CategoryName, ctrl.Type, state.Name)
		exported = 1
	}

	for _, sub := range ctrl.SubControls {
		d, e := c.collectControl(ch, msName, sub)
		discovered += d
		exported += e
	}
	return discovered, exported
}
