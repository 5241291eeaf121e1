package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
)

// ValidationError reports a ConfigInvalid condition: an immediate,
// non-retriable failure the caller surfaces at process exit code 1.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks cfg against every rule in spec.md §6 plus the
// empty-host-drop rule from §9. It mutates cfg.Miniservers in place to drop
// entries whose effective host is empty before checking "at least one
// remains".
func Validate(cfg *Config) error {
	cfg.Miniservers = dropEmptyHosts(cfg.Miniservers)
	if len(cfg.Miniservers) == 0 {
		return invalid("miniservers", "at least one miniserver with a non-empty host is required")
	}

	seen := make(map[string]bool, len(cfg.Miniservers))
	for i, ms := range cfg.Miniservers {
		if ms.Name == "" {
			return invalid(fmt.Sprintf("miniservers[%d].name", i), "must not be empty")
		}
		if seen[ms.Name] {
			return invalid(fmt.Sprintf("miniservers[%d].name", i), "duplicate miniserver name %q", ms.Name)
		}
		seen[ms.Name] = true
		if ms.Username == "" {
			return invalid(fmt.Sprintf("miniservers[%d].username", i), "must not be empty")
		}
		if ms.Password == "" {
			return invalid(fmt.Sprintf("miniservers[%d].password", i), "must not be empty")
		}
	}

	if net.ParseIP(cfg.ListenAddress) == nil {
		return invalid("listen_address", "must be a valid IP literal, got %q", cfg.ListenAddress)
	}
	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return invalid("listen_port", "must be in 1..65535, got %d", cfg.ListenPort)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return invalid("log_level", "must be one of debug, info, warning, error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return invalid("log_format", "must be one of json, text, got %q", cfg.LogFormat)
	}

	return validateOTLP(cfg.OpenTelemetry)
}

// dropEmptyHosts removes any miniserver entry whose effective host is empty
// even after environment merging, per spec.md §9.
func dropEmptyHosts(in []Miniserver) []Miniserver {
	out := in[:0:0]
	for _, ms := range in {
		if ms.Host == "" {
			continue
		}
		out = append(out, ms)
	}
	return out
}

func validateOTLP(o OpenTelemetry) error {
	if !o.Enabled {
		return nil
	}
	if o.Endpoint == "" {
		return invalid("opentelemetry.endpoint", "required when opentelemetry.enabled is true")
	}
	u, err := url.Parse(o.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("opentelemetry.endpoint", "must be an http(s) URL, got %q", o.Endpoint)
	}
	switch o.Protocol {
	case ProtocolGRPC, ProtocolHTTP:
	default:
		return invalid("opentelemetry.protocol", "must be one of grpc, http, got %q", o.Protocol)
	}
	if o.IntervalSeconds < MinOTLPInterval || o.IntervalSeconds > MaxOTLPInterval {
		return invalid("opentelemetry.interval_seconds", "must be in %d..%d, got %d", MinOTLPInterval, MaxOTLPInterval, o.IntervalSeconds)
	}
	if o.TimeoutSeconds < MinOTLPTimeout || o.TimeoutSeconds > MaxOTLPTimeout {
		return invalid("opentelemetry.timeout_seconds", "must be in %d..%d, got %d", MinOTLPTimeout, MaxOTLPTimeout, o.TimeoutSeconds)
	}
	if o.TimeoutSeconds >= o.IntervalSeconds {
		return invalid("opentelemetry.timeout_seconds", "must be strictly less than interval_seconds (%d), got %d", o.IntervalSeconds, o.TimeoutSeconds)
	}
	if o.TLS.Enabled {
		if o.TLS.CertPath == "" {
			return invalid("opentelemetry.tls.cert_path", "required when opentelemetry.tls.enabled is true")
		}
		if _, err := os.Stat(o.TLS.CertPath); err != nil {
			return invalid("opentelemetry.tls.cert_path", "%v", err)
		}
	}
	return nil
}
