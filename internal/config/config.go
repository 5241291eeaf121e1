// Package config loads and validates the adapter's configuration: a YAML
// file overridden by LOXONE_* environment variables, producing an immutable
// Config the rest of the process treats as read-only for its lifetime.
package config

import "time"

// Miniserver describes one controller connection target.
type Miniserver struct {
	Name            string `yaml:"name"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	SSLPort         int    `yaml:"ssl_port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	UseEncryption   bool   `yaml:"use_encryption"`
	ForceEncryption bool   `yaml:"force_encryption"`
}

// TLS configures the trust anchor used for a TLS-secured OTLP gRPC export.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertPath string `yaml:"cert_path"`
}

// Auth carries verbatim headers attached to every OTLP export request.
type Auth struct {
	Headers map[string]string `yaml:"headers"`
}

// OpenTelemetry configures the optional periodic OTLP push pipeline.
type OpenTelemetry struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	Protocol        string        `yaml:"protocol"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	TLS             TLS           `yaml:"tls"`
	Auth            Auth          `yaml:"auth"`
}

// Interval returns IntervalSeconds as a time.Duration.
func (o OpenTelemetry) Interval() time.Duration {
	return time.Duration(o.IntervalSeconds) * time.Second
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (o OpenTelemetry) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Protocol constants accepted by the opentelemetry.protocol field.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Default values applied when the YAML document and environment leave a
// field unset.
const (
	DefaultPort            = 80
	DefaultSSLPort         = 443
	DefaultListenAddress   = "0.0.0.0"
	DefaultListenPort      = 9504
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultOTLPProtocol    = ProtocolGRPC
	DefaultOTLPInterval    = 30
	DefaultOTLPTimeout     = 15
	MinOTLPInterval        = 10
	MaxOTLPInterval        = 300
	MinOTLPTimeout         = 5
	MaxOTLPTimeout         = 60
)

// Config is the fully loaded, validated, immutable configuration for one
// adapter process.
type Config struct {
	Miniservers []Miniserver `yaml:"miniservers"`

	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ExcludeRooms []string `yaml:"exclude_rooms"`
	ExcludeTypes []string `yaml:"exclude_types"`
	ExcludeNames []string `yaml:"exclude_names"`

	IncludeTextValues bool `yaml:"include_text_values"`

	OpenTelemetry OpenTelemetry `yaml:"opentelemetry"`
}
