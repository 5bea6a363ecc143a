package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/assetpulse/assetpulse/internal/alerts"
	"github.com/assetpulse/assetpulse/internal/engine"
	"github.com/assetpulse/assetpulse/internal/prober"
	"github.com/assetpulse/assetpulse/internal/reading"
	"github.com/assetpulse/assetpulse/internal/store"
)

// maxBodyBytes caps the assess request body. A full 1800-reading batch with
// all ten fields populated stays well under this.
const maxBodyBytes = 8 << 20

// AssessFunc runs one batch through the assessment pipeline. The server wires
// this to the engine plus its fan-out (store, stream, alerts, history).
type AssessFunc func(ctx context.Context, body []byte) (*engine.Report, error)

// AlertSource exposes the currently relevant alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// RuntimeSource exposes the latest remote-runtime probe outcomes.
type RuntimeSource interface {
	Statuses() []prober.Status
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	assess   AssessFunc
	store    *store.Store
	alerts   AlertSource
	runtimes RuntimeSource
	models   []ModelInfo
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes. alerts and runtimes may be
// nil when alerting or runtime probing is not configured.
func New(assess AssessFunc, st *store.Store, al AlertSource, rt RuntimeSource, models []ModelInfo) http.Handler {
	h := &Handler{assess: assess, store: st, alerts: al, runtimes: rt, models: models, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/assess", h.handleAssess)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/reports", h.listReports)
	h.mux.HandleFunc("/api/v1/reports/", h.getReport) // subtree — extracts {id}
	h.mux.HandleFunc("/api/v1/models", h.listModels)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/runtimes", h.listRuntimes)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// handleAssess serves POST /api/v1/assess — runs a batch through the pipeline
// and returns the completed report.
func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	rep, err := h.assess(r.Context(), body)
	if err != nil {
		if kind := reading.Kind(err); kind != "" {
			jsonResp(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kind})
			return
		}
		if errors.Is(err, engine.ErrNoModel) {
			jsonErr(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			jsonErr(w, http.StatusGatewayTimeout, "assessment aborted")
			return
		}
		jsonErr(w, http.StatusInternalServerError, "assessment failed")
		return
	}

	jsonResp(w, http.StatusOK, rep)
}

// health serves GET /api/v1/health — liveness plus recent report outcomes.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{
		Status:       "ok",
		ModelCount:   len(h.models),
		ReportCount:  len(entries),
		StatusCounts: make(map[string]int),
	}
	for _, e := range entries {
		resp.StatusCounts[e.Report.OverallStatus]++
	}
	jsonResp(w, http.StatusOK, resp)
}

// listReports serves GET /api/v1/reports — summaries of retained reports,
// newest first.
func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]ReportSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, toReportSummary(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getReport serves GET /api/v1/reports/{id} — one full report.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	if id == "" {
		// Redirect bare /api/v1/reports/ to the list handler.
		h.listReports(w, r)
		return
	}

	e, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "report not found")
		return
	}
	// Exclude expired entries — treat them as not found.
	if time.Since(e.UpdatedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "report not found")
		return
	}

	jsonResp(w, http.StatusOK, e.Report)
}

// listModels serves GET /api/v1/models — the registered channel models.
func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := h.models
	if out == nil {
		out = []ModelInfo{}
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts serves GET /api/v1/alerts — firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// listRuntimes serves GET /api/v1/runtimes — probe status per remote runtime.
func (h *Handler) listRuntimes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.runtimes == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	out := h.runtimes.Statuses()
	if out == nil {
		out = []prober.Status{}
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toReportSummary maps a store.Entry to its listing row.
func toReportSummary(e *store.Entry) ReportSummary {
	rep := e.Report
	return ReportSummary{
		ID:            rep.ID,
		OverallStatus: rep.OverallStatus,
		ReadingCount:  rep.ReadingCount,
		ReceivedAt:    rep.ReceivedAt.UTC().Format(time.RFC3339),
		CompletedAt:   rep.CompletedAt.UTC().Format(time.RFC3339),
	}
}
