package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
	"github.com/ekaya-inc/ekaya-monitor/pkg/repositories"
	"github.com/ekaya-inc/ekaya-monitor/pkg/services"
)

// BatchResponse summarizes a RunChecks call.
type BatchResponse struct {
	Schedule string                 `json:"schedule"`
	Ran      int                    `json:"ran"`
	Skipped  int                    `json:"skipped"`
	Failed   map[string]string      `json:"failed,omitempty"`
	Events   []models.CheckRunEvent `json:"events"`
	Notified NotifyResponse         `json:"notified"`
}

// NotifyResponse summarizes a notification fan-out.
type NotifyResponse struct {
	Sent     int               `json:"sent"`
	Failures map[string]string `json:"failures,omitempty"`
}

// CheckRunResponse is the outcome of running one check.
type CheckRunResponse struct {
	Event  models.CheckRunEvent `json:"event"`
	Check  models.Check         `json:"check"`
	Notify bool                 `json:"notify"`
}

// ChecksHandler triggers check runs and digests on demand.
type ChecksHandler struct {
	checkService services.CheckService
	checks       repositories.CheckRepository
	logger       *zap.Logger
}

// NewChecksHandler creates a new checks handler.
func NewChecksHandler(checkService services.CheckService, checks repositories.CheckRepository, logger *zap.Logger) *ChecksHandler {
	return &ChecksHandler{
		checkService: checkService,
		checks:       checks,
		logger:       logger,
	}
}

// RegisterRoutes registers the checks handler's routes on the given mux.
func (h *ChecksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checks/run", h.RunSchedule)
	mux.HandleFunc("POST /api/checks/{cid}/run", h.RunOne)
	mux.HandleFunc("POST /api/checks/digest", h.Digest)
}

// RunSchedule handles POST /api/checks/run?schedule=...
// An empty schedule runs every check.
func (h *ChecksHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	schedule := r.URL.Query().Get("schedule")

	report, err := h.checkService.RunChecks(r.Context(), schedule)
	if err != nil {
		writeServiceError(w, err, "run checks", h.logger)
		return
	}

	resp := BatchResponse{
		Schedule: report.Schedule,
		Ran:      report.Ran,
		Skipped:  report.Skipped,
		Events:   report.Events,
		Notified: toNotifyResponse(report.Notified),
	}
	if resp.Events == nil {
		resp.Events = []models.CheckRunEvent{}
	}
	if len(report.Failed) > 0 {
		resp.Failed = make(map[string]string, len(report.Failed))
		for id, err := range report.Failed {
			resp.Failed[id.String()] = err.Error()
		}
	}
	writeOK(w, http.StatusOK, resp, h.logger)
}

// RunOne handles POST /api/checks/{cid}/run
func (h *ChecksHandler) RunOne(w http.ResponseWriter, r *http.Request) {
	checkID, ok := ParseCheckID(w, r, h.logger)
	if !ok {
		return
	}

	check, err := h.checks.Get(r.Context(), checkID)
	if err != nil {
		writeServiceError(w, err, "load check", h.logger)
		return
	}

	run, err := h.checkService.RunCheck(r.Context(), check)
	if err != nil {
		writeServiceError(w, err, "run check", h.logger)
		return
	}
	writeOK(w, http.StatusOK, CheckRunResponse{Event: run.Event, Check: run.Check, Notify: run.Notify}, h.logger)
}

// Digest handles POST /api/checks/digest
func (h *ChecksHandler) Digest(w http.ResponseWriter, r *http.Request) {
	report, err := h.checkService.SendFailingChecks(r.Context())
	if err != nil {
		writeServiceError(w, err, "send digest", h.logger)
		return
	}
	writeOK(w, http.StatusOK, toNotifyResponse(report), h.logger)
}

func toNotifyResponse(r notify.Report) NotifyResponse {
	resp := NotifyResponse{Sent: r.Sent}
	if len(r.Failures) > 0 {
		resp.Failures = make(map[string]string, len(r.Failures))
		for key, err := range r.Failures {
			resp.Failures[key] = err.Error()
		}
	}
	return resp
}
