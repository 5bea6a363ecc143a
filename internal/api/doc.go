// Package api implements the REST surface of the assessment service.
//
// Routes:
//
//	POST /api/v1/assess      — run a batch of readings, returns the report
//	GET  /api/v1/health      — service liveness and recent report outcomes
//	GET  /api/v1/reports     — summaries of retained reports, newest first
//	GET  /api/v1/reports/{id}— one full report
//	GET  /api/v1/models      — the registered channel models
//	GET  /api/v1/alerts      — firing and recently resolved alerts
//
// Structural batch errors map to 400 with a machine-readable kind; a channel
// without a model maps to 503.
package api
