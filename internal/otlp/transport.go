package otlp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc/credentials"
)

// NewTransport builds the OTLP exporter for cfg's protocol, implementing
// spec.md §4.6 step 4: gRPC to endpoint (insecure unless TLS is enabled,
// trusting cert_path's PEM when it is), or HTTP/protobuf POSTing to
// endpoint(/v1/metrics), with all configured auth headers attached
// verbatim.
func NewTransport(ctx context.Context, cfg config.OpenTelemetry) (sdkmetric.Exporter, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("otlp: parse endpoint %q: %w", cfg.Endpoint, err)
	}
	host := u.Host

	switch cfg.Protocol {
	case config.ProtocolHTTP:
		return newHTTPTransport(ctx, cfg, u, host)
	default:
		return newGRPCTransport(ctx, cfg, host)
	}
}

func newHTTPTransport(ctx context.Context, cfg config.OpenTelemetry, u *url.URL, host string) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(host),
		otlpmetrichttp.WithURLPath(httpMetricsPath(u.Path)),
		otlpmetrichttp.WithTimeout(cfg.Timeout()),
	}
	if len(cfg.Auth.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Auth.Headers))
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := tlsConfigFromCertPath(cfg.TLS.CertPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlpmetrichttp.WithTLSClientConfig(tlsCfg))
	} else if u.Scheme != "https" {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

func newGRPCTransport(ctx context.Context, cfg config.OpenTelemetry, host string) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(host),
		otlpmetricgrpc.WithTimeout(cfg.Timeout()),
	}
	if len(cfg.Auth.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Auth.Headers))
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := tlsConfigFromCertPath(cfg.TLS.CertPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	} else {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// httpMetricsPath appends /v1/metrics to existing unless it is already
// present, per spec.md §4.6 step 4.
func httpMetricsPath(existing string) string {
	trimmed := strings.TrimSuffix(existing, "/")
	if strings.HasSuffix(trimmed, "/v1/metrics") {
		return trimmed
	}
	return trimmed + "/v1/metrics"
}

func tlsConfigFromCertPath(path string) (*tls.Config, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("otlp: read tls cert_path: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("otlp: no certificates found in %s", path)
	}
	return &tls.Config{RootCAs: pool}, nil
}
