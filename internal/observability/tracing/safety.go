package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var allowedSpanAttributes = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"request_id":              {},
	"tenant_id":               {},
	"job":                     {},
}

// ExtractContext extracts the remote span context from the carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes filters span attributes to a low-cardinality allow list.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanAttributes[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError strips query values and payload fragments before recording on a span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	message := err.Error()
	if idx := strings.IndexAny(message, "\r\n"); idx >= 0 {
		message = message[:idx]
	}
	const maxLen = 256
	if len(message) > maxLen {
		message = message[:maxLen]
	}
	return errors.New(message)
}
