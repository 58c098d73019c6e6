package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meteo-dashboard/services/internal/series"
	"meteo-dashboard/services/internal/store"
)

const (
	defaultDepth    = 24
	defaultForecast = 0
)

// HealthChecker reports whether the store answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// APIHandler serves the dashboard endpoints.
type APIHandler struct {
	svc    *Service
	health HealthChecker
	logger *slog.Logger
}

// NewAPIHandler returns a handler serving svc; health backs /health.
func NewAPIHandler(svc *Service, health HealthChecker, logger *slog.Logger) *APIHandler {
	return &APIHandler{svc: svc, health: health, logger: logger}
}

// RegisterRoutes mounts every endpoint under basePath.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux, basePath string) {
	mux.HandleFunc("GET "+basePath+"/data", h.handleData)
	mux.HandleFunc("GET "+basePath+"/yeardata", h.handleYearData)
	mux.HandleFunc("GET "+basePath+"/summary", h.handleSummary)
	mux.HandleFunc("GET "+basePath+"/devices", h.handleDevices)
	mux.HandleFunc("GET "+basePath+"/health", h.handleHealth)
	mux.Handle("GET "+basePath+"/metrics", promhttp.Handler())
}

// handleData: GET /data?depth=24&forecast=0&device=all
func (h *APIHandler) handleData(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: err.Error()})
		return
	}

	payload, err := h.svc.Data(r.Context(), win)
	if err != nil {
		var empty any = series.EmptyResult()
		if win.Depth >= series.YearlyDepth {
			empty = struct{}{}
		}
		h.fail(w, r, err, empty)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleYearData: GET /yeardata?device=salon
func (h *APIHandler) handleYearData(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Yearly(r.Context(), r.URL.Query().Get("device"))
	if err != nil {
		h.fail(w, r, err, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSummary: GET /summary?depth=24&forecast=0&device=all
func (h *APIHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: err.Error()})
		return
	}
	if win.Depth >= series.YearlyDepth {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "summary is not available for the yearly view"})
		return
	}

	rows, err := h.svc.Summary(r.Context(), win)
	if err != nil {
		h.fail(w, r, err, []series.SummaryRow{})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleDevices: GET /devices
func (h *APIHandler) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Devices(r.Context()))
}

// handleHealth: GET /health
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Ping(r.Context()); err != nil {
		requestLogger(r.Context(), h.logger).Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "degraded", Store: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Store: "ok"})
}

// fail answers a failed query. A bad window is the client's mistake (400);
// anything else gets the empty payload so the page still renders.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error, empty any) {
	if errors.Is(err, series.ErrInvalidWindow) {
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	requestLogger(r.Context(), h.logger).Error("query failed", "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, empty)
}

// parseWindow reads depth, forecast and device, applying the defaults for
// missing parameters.
func parseWindow(r *http.Request) (series.Window, error) {
	q := r.URL.Query()
	depth, err := hoursParam(q.Get("depth"), defaultDepth)
	if err != nil {
		return series.Window{}, errors.Wrap(err, "depth")
	}
	forecast, err := hoursParam(q.Get("forecast"), defaultForecast)
	if err != nil {
		return series.Window{}, errors.Wrap(err, "forecast")
	}
	device := q.Get("device")
	if device == "" {
		device = series.AllDevices
	}
	return series.Window{Depth: depth, Forecast: forecast, Device: device}, nil
}

func hoursParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Errorf("%q is not a whole number of hours", v)
	}
	if n < 0 {
		return 0, errors.Errorf("%d must not be negative", n)
	}
	if n > series.MaxHours {
		return 0, errors.Errorf("%d exceeds %d hours", n, series.MaxHours)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
