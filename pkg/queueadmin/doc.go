// Package queueadmin exposes read and maintenance operations of a queue backend over HTTP.
//
// Routes:
//
//	GET    /health            readiness of registered checks, 503 when any fails
//	GET    /stats             per-status job counts
//	GET    /jobs              ?status=&limit=&offset=, ordered by creation time
//	GET    /jobs/{id}         a single job, 404 when unknown
//	POST   /jobs/{id}/retry   revive a failed job, {"retried": bool}
//	DELETE /jobs/failed       remove failed jobs, {"cleared": n}
//
// Responses use the envelope {"data": ..., "error": {"code", "message"}}.
// The router never accepts new jobs.
package queueadmin
