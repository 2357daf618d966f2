package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/services"
)

// UserHeader carries the caller's identity for the audit trail. Authentication
// happens in front of the monitor.
const UserHeader = "X-User-ID"

// StartRunResponse is returned when a run is queued instead of awaited.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// ArchiveResponse reports how many saved queries were archived.
type ArchiveResponse struct {
	Archived int64 `json:"archived"`
}

// RunsHandler exposes ad-hoc statement runs.
type RunsHandler struct {
	queryService services.QueryService
	async        bool
	logger       *zap.Logger
}

// NewRunsHandler creates a new runs handler. With async set, POST /api/runs
// queues the run and answers 202 with its id.
func NewRunsHandler(queryService services.QueryService, async bool, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		queryService: queryService,
		async:        async,
		logger:       logger,
	}
}

// RegisterRoutes registers the runs handler's routes on the given mux.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/runs", h.Create)
	mux.HandleFunc("GET /api/runs/{rid}", h.Get)
	mux.HandleFunc("DELETE /api/runs/{rid}", h.Cancel)
	mux.HandleFunc("POST /api/queries/archive", h.Archive)
}

// Create handles POST /api/runs
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.AdHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", h.logger)
		return
	}
	if req.Statement == "" && req.QueryID == nil {
		writeError(w, http.StatusBadRequest, "missing_statement", "Statement or query_id is required", h.logger)
		return
	}
	if req.Statement != "" && req.DataSourceID == "" {
		writeError(w, http.StatusBadRequest, "missing_data_source", "data_source_id is required with a statement", h.logger)
		return
	}
	req.UserID = r.Header.Get(UserHeader)

	if h.async {
		runID, err := h.queryService.Start(r.Context(), req)
		if err != nil {
			writeServiceError(w, err, "start run", h.logger)
			return
		}
		writeOK(w, http.StatusAccepted, StartRunResponse{RunID: runID.String()}, h.logger)
		return
	}

	res, err := h.queryService.RunAdHoc(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "run statement", h.logger)
		return
	}
	writeOK(w, http.StatusOK, res, h.logger)
}

// Get handles GET /api/runs/{rid}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.queryService.Poll(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err, "poll run", h.logger)
		return
	}
	writeOK(w, http.StatusOK, res, h.logger)
}

// Cancel handles DELETE /api/runs/{rid}?data_source_id=...
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}
	dataSourceID := r.URL.Query().Get("data_source_id")
	if dataSourceID == "" {
		writeError(w, http.StatusBadRequest, "missing_data_source", "data_source_id is required", h.logger)
		return
	}

	if err := h.queryService.Cancel(r.Context(), dataSourceID, runID); err != nil {
		writeServiceError(w, err, "cancel run", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/queries/archive
func (h *RunsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	n, err := h.queryService.ArchiveUnviewed(r.Context())
	if err != nil {
		writeServiceError(w, err, "archive queries", h.logger)
		return
	}
	writeOK(w, http.StatusOK, ArchiveResponse{Archived: n}, h.logger)
}
