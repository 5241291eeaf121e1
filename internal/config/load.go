package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads path as a YAML configuration document, applies LOXONE_*
// environment overrides, fills in defaults, and validates the result. It is
// the only entry point callers need: a non-nil error here is always a
// ConfigInvalid condition (spec.md §7), fatal to the process at exit code 1.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(&cfg, os.Environ())
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	for i := range cfg.Miniservers {
		if cfg.Miniservers[i].Port == 0 {
			cfg.Miniservers[i].Port = DefaultPort
		}
		if cfg.Miniservers[i].SSLPort == 0 {
			cfg.Miniservers[i].SSLPort = DefaultSSLPort
		}
		if cfg.Miniservers[i].ForceEncryption {
			cfg.Miniservers[i].UseEncryption = true
		}
	}
	if cfg.OpenTelemetry.Protocol == "" {
		cfg.OpenTelemetry.Protocol = DefaultOTLPProtocol
	}
	if cfg.OpenTelemetry.IntervalSeconds == 0 {
		cfg.OpenTelemetry.IntervalSeconds = DefaultOTLPInterval
	}
	if cfg.OpenTelemetry.TimeoutSeconds == 0 {
		cfg.OpenTelemetry.TimeoutSeconds = DefaultOTLPTimeout
	}
}

// applyEnv implements the §6 environment override surface: LOXONE_* for the
// first miniserver and top-level options, LOXONE_OTLP_* for the push
// pipeline, and LOXONE_OTLP_AUTH_HEADER_<KEY> to add individual headers.
func applyEnv(cfg *Config, environ []string) {
	get := func(key string) (string, bool) {
		prefix := key + "="
		for _, kv := range environ {
			if strings.HasPrefix(kv, prefix) {
				return kv[len(prefix):], true
			}
		}
		return "", false
	}

	if v, ok := get("LOXONE_HOST"); ok {
		ensureFirstMiniserver(cfg).Host = v
	}
	if v, ok := get("LOXONE_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			ensureFirstMiniserver(cfg).Port = n
		}
	}
	if v, ok := get("LOXONE_USERNAME"); ok {
		ensureFirstMiniserver(cfg).Username = v
	}
	if v, ok := get("LOXONE_PASSWORD"); ok {
		ensureFirstMiniserver(cfg).Password = v
	}
	if v, ok := get("LOXONE_NAME"); ok {
		ensureFirstMiniserver(cfg).Name = v
	}
	if v, ok := get("LOXONE_LISTEN_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = n
		}
	}
	if v, ok := get("LOXONE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}

	if v, ok := get("LOXONE_OTLP_ENABLED"); ok {
		cfg.OpenTelemetry.Enabled = parseBool(v)
	}
	if v, ok := get("LOXONE_OTLP_ENDPOINT"); ok {
		cfg.OpenTelemetry.Endpoint = v
	}
	if v, ok := get("LOXONE_OTLP_PROTOCOL"); ok {
		cfg.OpenTelemetry.Protocol = v
	}
	if v, ok := get("LOXONE_OTLP_INTERVAL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OpenTelemetry.IntervalSeconds = n
		}
	}
	if v, ok := get("LOXONE_OTLP_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OpenTelemetry.TimeoutSeconds = n
		}
	}
	if v, ok := get("LOXONE_OTLP_TLS_ENABLED"); ok {
		cfg.OpenTelemetry.TLS.Enabled = parseBool(v)
	}
	if v, ok := get("LOXONE_OTLP_TLS_CERT_PATH"); ok {
		cfg.OpenTelemetry.TLS.CertPath = v
	}

	for _, kv := range environ {
		const prefix = "LOXONE_OTLP_AUTH_HEADER_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := kv[len(prefix):eq]
		value := kv[eq+1:]
		if key == "" {
			continue
		}
		if cfg.OpenTelemetry.Auth.Headers == nil {
			cfg.OpenTelemetry.Auth.Headers = make(map[string]string)
		}
		cfg.OpenTelemetry.Auth.Headers[titleCaseHeader(key)] = value
	}
}

// ensureFirstMiniserver returns a pointer to cfg.Miniservers[0], creating an
// empty entry if the file declared none. The empty-host drop rule (§9)
// removes it again at validation time if no override ever sets a host.
func ensureFirstMiniserver(cfg *Config) *Miniserver {
	if len(cfg.Miniservers) == 0 {
		cfg.Miniservers = append(cfg.Miniservers, Miniserver{})
	}
	return &cfg.Miniservers[0]
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// titleCaseHeader turns a LOXONE_OTLP_AUTH_HEADER_<KEY> suffix into a
// canonical HTTP header name: underscores become hyphens, each
// hyphen-delimited segment is title-cased, e.g. "api_key" -> "Api-Key".
func titleCaseHeader(key string) string {
	parts := strings.Split(strings.ToLower(key), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}
