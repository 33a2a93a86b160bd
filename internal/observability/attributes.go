// Package observability provides metrics for the HTTP API, job tracking and notification delivery.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrRoute   = "route"
	attrStatus  = "status"
	attrVariant = "variant"
	attrSuccess = "success"
	attrCause   = "cause"
	attrResult  = "result"
	attrChannel = "channel"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func routeAttr(pattern string) attribute.KeyValue {
	return attribute.String(attrRoute, routeOf(pattern))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func variantAttr(variant string) attribute.KeyValue {
	return attribute.String(attrVariant, variant)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func causeAttr(cause string) attribute.KeyValue {
	return attribute.String(attrCause, cause)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func channelAttr(channel string) attribute.KeyValue {
	return attribute.String(attrChannel, channel)
}

// routeOf drops the method from a ServeMux pattern, since it is already
// its own attribute: "GET /v1/jobs/{jobId}" -> "/v1/jobs/{jobId}".
func routeOf(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return strings.TrimSpace(path)
	}
	return pattern
}
