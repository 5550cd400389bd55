package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for loyalty-bridge telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Event attributes
	AttrEventKind = attribute.Key("event.kind")

	// Operation attributes
	AttrOperation = attribute.Key("operation")
	AttrResult    = attribute.Key("result")

	// Sweep attributes
	AttrSweepName = attribute.Key("sweep.name")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")

	// Remote API attributes
	AttrHTTPStatus = attribute.Key("http.status")
)

// Result values
const (
	ResultDelivered = "delivered"
	ResultRetried   = "retried"
	ResultDead      = "dead"
	ResultSuccess   = "success"
	ResultFailure   = "failure"
)

// Sweep name values
const (
	SweepCartExpiry = "cart_expiry"
	SweepOrderPlace = "order_place"
)

// Helper functions for creating common attribute sets

// DispatchAttributes returns common attributes for dispatch outcome metrics.
func DispatchAttributes(environment, eventKind, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventKind.String(eventKind),
		AttrResult.String(result),
	}
}

// SweepAttributes returns attributes for reconciliation sweep metrics.
func SweepAttributes(environment, sweep, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrSweepName.String(sweep),
		AttrResult.String(result),
	}
}

// RequestAttributes returns attributes for remote loyalty API call metrics.
func RequestAttributes(environment, operation string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrHTTPStatus.Int(status),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}
