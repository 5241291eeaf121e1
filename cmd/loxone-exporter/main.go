// Command loxone-exporter bridges one or more Loxone Miniservers into
// Prometheus (via /metrics) and, optionally, a periodic OTLP metrics push.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	commonversion "github.com/prometheus/common/version"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/auth"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/config"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/httpapi"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/logging"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/metrics"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/mirror"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/otlp"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/session"
)

// clientName identifies this exporter to a Miniserver's getjwt/gettoken
// handshake; each configured Miniserver gets its own generated ClientUUID.
const clientName = "loxone-prometheus-exporter"

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := kingpin.New("loxone-exporter", "Prometheus and OTLP exporter for Loxone Miniservers.")
	configPath := app.Flag("config", "Path to the YAML configuration file.").Default("config.yml").String()
	dumpStructure := app.Flag("dump-structure", "Connect to the first configured Miniserver, print its parsed structure as JSON, and exit.").Bool()
	app.HelpFlag.Short('h')

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loxone-exporter: %v\n", err)
		return 2
	}

	bootLogger := logging.New(config.DefaultLogFormat, config.DefaultLogLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_ = level.Error(bootLogger).Log("msg", "invalid configuration", "err", err)
		return 1
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)

	if *dumpStructure {
		return runDumpStructure(logger, cfg)
	}

	commonversion.Version = version
	commonversion.Revision = commit
	commonversion.BuildDate = buildDate

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("loxone_exporter"),
	)

	filter := metrics.Filter{
		ExcludeRooms: cfg.ExcludeRooms,
		ExcludeTypes: cfg.ExcludeTypes,
		ExcludeNames: cfg.ExcludeNames,
	}
	if err := filter.Compile(); err != nil {
		_ = level.Error(logger).Log("msg", "invalid exclusion filter", "err", err)
		return 1
	}

	mirrors := mirror.NewRegistry()
	runners := make([]*session.Runner, 0, len(cfg.Miniservers))
	for _, ms := range cfg.Miniservers {
		m := mirror.New(ms.Name)
		mirrors.Add(m)
		runners = append(runners, session.NewRunner(runnerConfig(ms), m, log.With(logger, "component", "session")))
	}

	collector := metrics.NewCollector(mirrors, metrics.Options{
		Filter:            filter,
		IncludeTextValues: cfg.IncludeTextValues,
		Build:             metrics.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate},
	})
	reg.MustRegister(collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	{
		term := make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		done := make(chan struct{})
		g.Add(func() error {
			select {
			case <-term:
				_ = level.Info(logger).Log("msg", "received termination signal, shutting down")
			case <-done:
			}
			return nil
		}, func(error) {
			cancel()
			close(done)
		})
	}

	for i, runner := range runners {
		runner := runner
		name := cfg.Miniservers[i].Name
		g.Add(func() error {
			return runner.Run(ctx)
		}, func(error) {
			_ = level.Info(logger).Log("msg", "stopping session runner", "miniserver", name)
		})
	}

	var otlpHealth *otlp.Health
	if cfg.OpenTelemetry.Enabled {
		transport, err := otlp.NewTransport(ctx, cfg.OpenTelemetry)
		if err != nil {
			_ = level.Error(logger).Log("msg", "failed to build otlp transport", "err", err)
			return 2
		}
		loop, health := otlp.NewLoop(cfg.OpenTelemetry, reg, transport, otlp.NewResource(version), reg, log.With(logger, "component", "otlp"))
		otlpHealth = health
		g.Add(func() error {
			return loop.Run(ctx)
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := loop.Shutdown(shutdownCtx); err != nil {
				_ = level.Warn(logger).Log("msg", "otlp loop shutdown error", "err", err)
			}
		})
	}

	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", httpapi.NewScrapeHandler(reg, reg))
		mux.Handle("/healthz", httpapi.NewHealthzHandler(mirrors, collector, otlpHealth))
		server := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort),
			Handler: mux,
		}
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "starting http server", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				_ = level.Error(logger).Log("msg", "http server failed to shut down gracefully", "err", err)
			}
		})
	}

	if err := g.Run(); err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = level.Error(logger).Log("msg", "exporter exited with error", "err", err)
			return 2
		}
	}
	_ = level.Info(logger).Log("msg", "exporter stopped")
	return 0
}

// runnerConfig maps one configured Miniserver to a session.Config, choosing
// the SSL port and assigning a fresh handshake ClientUUID.
func runnerConfig(ms config.Miniserver) session.Config {
	useEncryption := ms.UseEncryption || ms.ForceEncryption
	port := ms.Port
	scheme := "http"
	if useEncryption {
		port = ms.SSLPort
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s:%d", scheme, ms.Host, port)

	return session.Config{
		Name:            ms.Name,
		Host:            ms.Host,
		Port:            port,
		Username:        ms.Username,
		Password:        ms.Password,
		ClientUUID:      uuid.NewString(),
		ClientName:      clientName,
		UseEncryption:   ms.UseEncryption,
		ForceEncryption: ms.ForceEncryption,
		PubKeyFetcher:   auth.NewHTTPPubKeyFetcher(&http.Client{Timeout: auth.PublicKeyHTTPTimeout}, baseURL, ms.Username, ms.Password),
	}
}

// runDumpStructure connects to the first configured Miniserver, fetches and
// parses its structure file, prints it as JSON, and returns the process
// exit code.
func runDumpStructure(logger log.Logger, cfg *config.Config) int {
	if len(cfg.Miniservers) == 0 {
		_ = level.Error(logger).Log("msg", "dump-structure requires at least one configured miniserver")
		return 1
	}
	ms := cfg.Miniservers[0]
	m := mirror.New(ms.Name)
	runner := session.NewRunner(runnerConfig(ms), m, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	parsed, err := runner.FetchStructureOnce(ctx)
	if err != nil {
		_ = level.Error(logger).Log("msg", "failed to fetch structure", "miniserver", ms.Name, "err", err)
		return 2
	}

	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	if err := enc.Encode(parsed); err != nil {
		_ = level.Error(logger).Log("msg", "failed to encode structure", "err", err)
		return 2
	}
	return 0
}
