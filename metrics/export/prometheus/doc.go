// Package prometheus exposes goSession Engine metrics to Prometheus.
//
// [NewPrometheusExporter] renders the counters and the Authenticate latency histogram in
// the text exposition format behind an [http.Handler]. [NewCollector] adapts the same
// snapshot to a client_golang [prometheus.Collector] so it can share a registry with
// process and Go runtime metrics. Counter names are prefixed gosession_ and end in
// _total; the histogram is gosession_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in the default Prometheus registry. Callers choose the registry.
//   - Mutate engine state.
package prometheus
