// Package telemetry provides OpenTelemetry initialization and the semantic
// attribute keys used by the stat server's metrics.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for stat-server observability. The keys
// are bare attribute names with no namespace prefix.
const (
	// AttrResource identifies the tracked resource a metric pertains to.
	AttrResource = attribute.Key("resource")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrResult records the outcome of an operation (ok, timeout, error).
	AttrResult = attribute.Key("result")
	// AttrReason provides additional free-form context for restarts/errors.
	AttrReason = attribute.Key("reason")
)

// Operation result label values shared across metrics.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// ResourceAttributes returns the common attribute set for a per-resource metric.
func ResourceAttributes(environment, resource string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResource.String(resource),
	}
}

// ResourceResultAttributes adds a result classification to a per-resource metric.
func ResourceResultAttributes(environment, resource, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResource.String(resource),
		AttrResult.String(result),
	}
}

// RestartAttributes labels a supervisor restart event with its trigger reason.
func RestartAttributes(environment, resource, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResource.String(resource),
		AttrReason.String(reason),
	}
}
