// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a job, GET /v1/jobs to list them.
//   - POST /v1/jobs/{jobID}/control to pause, resume, or stop a run.
//   - GET /v1/jobs/{jobID}/result to download the spreadsheet artifact.
package api
