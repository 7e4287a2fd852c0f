// Package prometheus provides a Prometheus collector for engine metrics.
//
// [NewPrometheusExporter] accepts a [gatekit.Engine] and exposes an [http.Handler]
// that renders all engine counters in Prometheus text exposition format.
// Counter names are prefixed gatekit_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
