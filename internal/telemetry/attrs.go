package telemetry

import "go.opentelemetry.io/otel/attribute"

func otelOpAttr(op string) attribute.KeyValue {
	return attribute.String("tifs.op", op)
}

func otelErrnoAttr(errno int32) attribute.KeyValue {
	return attribute.Int("tifs.errno", int(errno))
}
