// Package controlapi implements the REST control surface: a stateless
// router that parses requests, dispatches to the status aggregator and the
// lifecycle orchestrator, and marshals responses. All authoritative state
// lives in the registry or is recomputed live on each read.
package controlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haloworks/fleetctl/internal/config"
	"github.com/haloworks/fleetctl/internal/httpserver"
	"github.com/haloworks/fleetctl/pkg/orchestrator"
	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
	"github.com/haloworks/fleetctl/pkg/status"
)

// Handler provides HTTP handlers for the application lifecycle control
// surface.
type Handler struct {
	store        *registry.Store
	aggregator   *status.Aggregator
	orchestrator *orchestrator.Orchestrator
	http         probe.HTTPProber
	quickTimeout time.Duration
	globalSched  config.GlobalSchedule
	logger       *slog.Logger
}

// NewHandler creates a Handler. globalSched is surfaced read-only by
// GET /apps/{name}/schedule since times and weekdays are never stored per
// app.
func NewHandler(store *registry.Store, aggregator *status.Aggregator, orch *orchestrator.Orchestrator, httpProber probe.HTTPProber, quickTimeout time.Duration, globalSched config.GlobalSchedule, logger *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		aggregator:   aggregator,
		orchestrator: orch,
		http:         httpProber,
		quickTimeout: quickTimeout,
		globalSched:  globalSched,
		logger:       logger,
	}
}

// Routes returns a chi.Router with every control endpoint mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/apps", h.handleListApps)
	r.Get("/apps/{name}", h.handleGetApp)
	r.Get("/apps/{name}/schedule", h.handleGetSchedule)
	r.Post("/apps/{name}/schedule/enable", h.handleToggleSchedule)
	r.Get("/apps/{name}/cost", h.handleGetCost)
	r.Post("/start", h.handleStart)
	r.Post("/stop", h.handleStop)
	r.Post("/db/start", h.handleDBStart)
	r.Post("/db/stop", h.handleDBStop)
	r.Get("/status/quick", h.handleQuickStatus)
	return r
}

// handleListApps composes a live view for every app on the requested page.
// Each view fans out to the external probes, so the page size bounds the
// probe load of a single request.
func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	recs, err := h.store.ListApplications(r.Context())
	if err != nil {
		h.logger.Error("listing applications", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list applications")
		return
	}

	total := len(recs)
	page := recs[min(params.Offset, total):min(params.Offset+params.PageSize, total)]

	views := make([]status.ComposedView, 0, len(page))
	for _, rec := range page {
		view, err := h.aggregator.Compose(r.Context(), rec)
		if err != nil {
			h.logger.Error("composing status", "app", rec.AppName, "error", err)
			continue
		}
		views = append(views, view)
	}

	resp := httpserver.NewOffsetPage(views, params, total)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"apps":        resp.Items,
		"page":        resp.Page,
		"page_size":   resp.PageSize,
		"total_items": resp.TotalItems,
		"total_pages": resp.TotalPages,
	})
}

func (h *Handler) handleGetApp(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "name")
	rec, err := h.store.GetApplication(r.Context(), appName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("loading application", "app", appName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load application")
		return
	}

	view, err := h.aggregator.Compose(r.Context(), *rec)
	if err != nil {
		h.logger.Error("composing status", "app", appName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compose status")
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

// StartRequest is the body for POST /start.
type StartRequest struct {
	AppName string `json:"app_name" validate:"required"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"

	result, err := h.orchestrator.Start(r.Context(), req.AppName, dryRun, registry.SourceUser)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("starting application", "app", req.AppName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start application")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

// StopRequest is the body for POST /stop.
type StopRequest struct {
	AppName string `json:"app_name" validate:"required"`
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.orchestrator.Stop(r.Context(), req.AppName, registry.SourceUser)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("stopping application", "app", req.AppName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop application")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

// DBRequest is the body shared by POST /db/start and POST /db/stop.
type DBRequest struct {
	App  string `json:"app" validate:"required"`
	Type string `json:"type" validate:"required,oneof=postgres neo4j"`
}

func (h *Handler) handleDBStart(w http.ResponseWriter, r *http.Request) {
	var req DBRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.orchestrator.DbStart(r.Context(), req.App, req.Type)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("starting database", "app", req.App, "type", req.Type, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start database")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleDBStop(w http.ResponseWriter, r *http.Request) {
	var req DBRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	success, reason, err := h.orchestrator.DbStop(r.Context(), req.App, req.Type)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("stopping database", "app", req.App, "type", req.Type, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop database")
		return
	}

	resp := map[string]any{"success": success}
	if reason != "" {
		resp["reason"] = reason
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// handleQuickStatus implements the internal quick-status path: a single
// HTTP HEAD, no side probes, bounded by QuickStatusTimeout. It is the same
// check the stop protocol uses for co-tenant liveness, exposed here so
// external callers (and the schedule evaluator, via HTTP in a
// multi-process deployment) share one implementation.
func (h *Handler) handleQuickStatus(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app")
	if appName == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "app query parameter is required")
		return
	}

	quickStatus, code, err := h.QuickStatus(r.Context(), appName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "app not found")
			return
		}
		h.logger.Error("quick status", "app", appName, "error", err)
	}

	resp := map[string]any{
		"app":       appName,
		"status":    quickStatus,
		"timestamp": time.Now().Unix(),
	}
	if code != 0 {
		resp["code"] = code
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// QuickStatus runs the bare HTTP HEAD quick-status check behind
// GET /status/quick. It returns the raw HTTP status code alongside the
// classification for callers that want to display it; orchestrator.New and
// schedule.New are wired with their own narrower orchestrator.QuickStatusFunc
// closure in internal/app since that type has no slot for the status code.
func (h *Handler) QuickStatus(ctx context.Context, appName string) (orchestrator.QuickStatus, int, error) {
	rec, err := h.store.GetApplication(ctx, appName)
	if err != nil {
		return orchestrator.QuickUnknown, 0, err
	}
	if len(rec.Hostnames) == 0 {
		return orchestrator.QuickUnknown, 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.quickTimeout)
	defer cancel()
	result := h.http.Head(ctx, rec.Hostnames[0], h.quickTimeout)
	if result.Err != nil {
		return orchestrator.QuickDown, 0, nil
	}
	if result.Code == http.StatusOK {
		return orchestrator.QuickUp, result.Code, nil
	}
	return orchestrator.QuickDown, result.Code, nil
}

func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "name")
	sched, err := h.store.GetSchedule(r.Context(), appName)
	enabled := false
	if err == nil {
		enabled = sched.Enabled
	} else if !errors.Is(err, registry.ErrNotFound) {
		h.logger.Error("loading schedule", "app", appName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load schedule")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"app":      appName,
		"enabled":  enabled,
		"on":       h.globalSched.StartTime,
		"off":      h.globalSched.StopTime,
		"weekdays": h.globalSched.WeekdaysStart,
		"source":   "global",
	})
}

// ScheduleToggleRequest is the body for POST /apps/{name}/schedule/enable.
type ScheduleToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "name")
	var req ScheduleToggleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.PutSchedule(r.Context(), registry.ScheduleRecord{AppName: appName, Enabled: req.Enabled}); err != nil {
		h.logger.Error("writing schedule toggle", "app", appName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update schedule")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"app": appName, "enabled": req.Enabled})
}

func (h *Handler) handleGetCost(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "name")
	snap, err := h.store.GetLatestCostSnapshot(r.Context(), appName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httpserver.Respond(w, http.StatusOK, map[string]any{})
			return
		}
		h.logger.Error("loading cost snapshot", "app", appName, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load cost snapshot")
		return
	}
	httpserver.Respond(w, http.StatusOK, snap)
}
