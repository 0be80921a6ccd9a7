package moderation

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/platform/httpx"
	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// Handler exposes report filing and case decision endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the moderation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers authenticated routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/territories/{id}/reports", h.FileReport)
	r.Get("/territories/{id}/reports", h.ListReports)
	r.Get("/reports/{id}", h.ShowReport)
	r.Post("/moderation/cases/{workItemID}/decision", h.Decide)
}

type fileReportRequest struct {
	TargetKind string `json:"target_kind" validate:"required,oneof=POST USER"`
	TargetID   int64  `json:"target_id" validate:"required"`
	Reason     string `json:"reason" validate:"required,max=2000"`
}

type reportResponse struct {
	ID          int64     `json:"id"`
	TerritoryID int64     `json:"territory_id"`
	TargetKind  string    `json:"target_kind"`
	TargetID    int64     `json:"target_id"`
	ReporterID  int64     `json:"reporter_id"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CaseID      string    `json:"case_id,omitempty"`
}

// FileReport records a complaint about a post or user.
func (h *Handler) FileReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	territoryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid territory id")
		return
	}
	var req fileReportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	report, caseItem, err := h.service.FileReport(r.Context(), FileInput{
		TerritoryID: territoryID,
		Target:      ReportTarget{Kind: TargetKind(req.TargetKind), ID: req.TargetID},
		ReporterID:  actor,
		Reason:      req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := toReportResponse(report)
	if caseItem != nil {
		resp.CaseID = caseItem.ID.String()
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

// ListReports returns a territory's reports.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	territoryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid territory id")
		return
	}
	var status *ReportStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := ReportStatus(raw)
		status = &s
	}

	reports, err := h.service.ListReports(r.Context(), territoryID, status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]reportResponse, 0, len(reports))
	for _, report := range reports {
		resp = append(resp, toReportResponse(report))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// ShowReport returns a single report.
func (h *Handler) ShowReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid report id")
		return
	}
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReportResponse(report))
}

type decisionRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// Decide applies a moderator decision to a moderation case.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	workItemID, err := uuid.Parse(chi.URLParam(r, "workItemID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid work item id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outcome must be APPROVED or REJECTED")
		return
	}

	item, err := h.service.Decide(r.Context(), workItemID, actor, review.Outcome(req.Outcome), req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"work_item_id": item.ID.String(),
		"status":       string(item.Status),
		"outcome":      string(item.Outcome),
	})
}

func toReportResponse(report Report) reportResponse {
	return reportResponse{
		ID:          report.ID,
		TerritoryID: report.TerritoryID,
		TargetKind:  string(report.Target.Kind),
		TargetID:    report.Target.ID,
		ReporterID:  report.ReporterID,
		Reason:      report.Reason,
		Status:      string(report.Status),
		CreatedAt:   report.CreatedAt,
	}
}
