// Package otel publishes authcore engine metrics through OpenTelemetry.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per login latency bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider; the exporter never mutates engine state.
package otel
