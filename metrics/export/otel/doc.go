// Package otel publishes goSession Engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per Engine counter, and for the
// Authenticate latency histogram a bucket gauge carrying an "le" attribute plus a count
// gauge. A single callback reads [goSession.Engine.MetricsSnapshot] per collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
