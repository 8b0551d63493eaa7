package queueadmin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// Router returns the admin HTTP handler for backend.
// When backend implements queue.Pinger it is registered as the "backend" health check.
//
//	r := chi.NewRouter()
//	r.Mount("/queue", queueadmin.Router(backend, queueadmin.WithLogger(log)))
func Router(backend queue.Backend, opts ...Option) chi.Router {
	if p, ok := backend.(queue.Pinger); ok {
		opts = append([]Option{WithHealthCheck("backend", p.Ping)}, opts...)
	}
	h := &handlers{backend: backend, opts: defaultOptions(opts)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Delete("/failed", h.clearFailed)
		r.Get("/{id}", h.getJob)
		r.Post("/{id}/retry", h.retryJob)
	})

	return r
}

type handlers struct {
	backend queue.Backend
	opts    options
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.backend.GetStats(r.Context())
	if err != nil {
		h.fail(w, r, "get stats", err)
		return
	}
	writeData(w, stats)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := queue.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, fmt.Errorf("%w: %q", ErrInvalidStatus, status))
		return
	}

	limit, err := intParam(q.Get("limit"), h.opts.defaultLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit = min(limit, h.opts.maxLimit)

	jobs, err := h.backend.ListJobs(r.Context(), limit, offset, status)
	if err != nil {
		h.fail(w, r, "list jobs", err)
		return
	}
	writeData(w, jobs)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.backend.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get job", err)
		return
	}
	writeData(w, job)
}

func (h *handlers) retryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	retried, err := h.backend.RetryJob(r.Context(), id)
	if err != nil {
		h.fail(w, r, "retry job", err)
		return
	}
	if retried {
		h.opts.logger.InfoContext(r.Context(), "job revived", logger.JobID(id))
	}
	writeData(w, map[string]bool{"retried": retried})
}

func (h *handlers) clearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.backend.ClearFailed(r.Context())
	if err != nil {
		h.fail(w, r, "clear failed jobs", err)
		return
	}
	h.opts.logger.InfoContext(r.Context(), "failed jobs cleared", logger.Count(n))
	writeData(w, map[string]int64{"cleared": n})
}

// health runs every registered check and answers 503 if any of them fails
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.opts.checks))
	ready := true

	for _, c := range h.opts.checks {
		if err := runCheck(r.Context(), c.check); err != nil {
			ready = false
			results[c.name] = err.Error()
			h.opts.logger.WarnContext(r.Context(), "health check failed",
				slog.String("check", c.name),
				logger.Error(err),
			)
			continue
		}
		results[c.name] = "ok"
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Data:  results,
			Error: &ErrorDetail{Code: "not_ready", Message: ErrNotReady.Error()},
		})
		return
	}
	writeData(w, results)
}

func runCheck(ctx context.Context, check HealthCheck) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return check(ctx)
}

// fail logs unexpected errors and writes the error response
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.opts.logger.ErrorContext(r.Context(), op+" failed", logger.Error(err))
	}
	writeError(w, err)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuery, raw)
	}
	return n, nil
}
