// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the job worker uses to report scraping progress. It batches
// events on a background goroutine and fans them out to pluggable sinks such as
// structured logs or Prometheus metrics.
package progress
