// Package prometheus renders authcore engine metrics in the Prometheus text
// exposition format.
//
// [NewExporter] exposes an [http.Handler] for a metrics endpoint. Counter
// names are authcore_*_total and the single histogram is
// authcore_login_latency_seconds. Nothing is registered globally; callers
// mount the handler.
package prometheus
