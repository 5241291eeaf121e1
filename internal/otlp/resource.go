package otlp

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// serviceName is the fixed OTLP resource service.name, per spec.md §4.6
// step 3.
const serviceName = "loxone-prometheus-exporter"

// NewResource builds the OTLP resource attached to every export: a fixed
// service name plus the running binary's version.
func NewResource(version string) *resource.Resource {
	return resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)
}
