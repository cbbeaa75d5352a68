package telemetry

import "go.opentelemetry.io/otel/attribute"

func statusAttr(status string) attribute.KeyValue {
	return attribute.String("status", status)
}

func operationAttr(op string) attribute.KeyValue {
	return attribute.String("operation", op)
}
