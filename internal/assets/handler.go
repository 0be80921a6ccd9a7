package assets

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

// Handler exposes asset suggestion and curation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the assets handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers authenticated routes. Curation can be addressed
// by work item or by asset; both land on the same completion.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/territories/{id}/assets", h.Suggest)
	r.Get("/territories/{id}/assets", h.ListByTerritory)
	r.Get("/assets/{id}", h.Show)
	r.Post("/assets/{id}/decision", h.DecideByAsset)
	r.Post("/assets/curation/{workItemID}/decision", h.DecideByWorkItem)
}

type suggestRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type assetResponse struct {
	ID            int64      `json:"id"`
	TerritoryID   int64      `json:"territory_id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	SuggestedBy   int64      `json:"suggested_by"`
	Status        string     `json:"status"`
	CuratedBy     *int64     `json:"curated_by,omitempty"`
	CuratedAt     *time.Time `json:"curated_at,omitempty"`
	CurationNotes *string    `json:"curation_notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	WorkItemID    string     `json:"work_item_id,omitempty"`
}

// Suggest records an asset suggestion.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
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
	var req suggestRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	asset, item, err := h.service.Suggest(r.Context(), SuggestInput{
		TerritoryID: territoryID,
		Name:        req.Name,
		Description: req.Description,
		SuggestedBy: actor,
	})
	if err != nil {
		h.logger.Error("suggest asset", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := toAssetResponse(asset)
	resp.WorkItemID = item.ID.String()
	httpx.JSON(w, http.StatusCreated, resp)
}

// ListByTerritory returns a territory's assets.
func (h *Handler) ListByTerritory(w http.ResponseWriter, r *http.Request) {
	territoryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid territory id")
		return
	}
	var status *AssetStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := AssetStatus(raw)
		status = &s
	}

	assets, err := h.service.ListByTerritory(r.Context(), territoryID, status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		resp = append(resp, toAssetResponse(asset))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Show returns a single asset.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid asset id")
		return
	}
	asset, err := h.service.GetAsset(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetResponse(asset))
}

type decisionRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// DecideByAsset applies a curator decision addressed by asset id.
func (h *Handler) DecideByAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	assetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid asset id")
		return
	}
	req, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}

	item, err := h.service.DecideByAsset(r.Context(), assetID, actor, review.Outcome(req.Outcome), req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondDecision(w, item)
}

// DecideByWorkItem applies a curator decision addressed by work item id.
func (h *Handler) DecideByWorkItem(w http.ResponseWriter, r *http.Request) {
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
	req, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}

	item, err := h.service.DecideByWorkItem(r.Context(), workItemID, actor, review.Outcome(req.Outcome), req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondDecision(w, item)
}

func (h *Handler) decodeDecision(w http.ResponseWriter, r *http.Request) (decisionRequest, bool) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return decisionRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outcome must be APPROVED or REJECTED")
		return decisionRequest{}, false
	}
	return req, true
}

func (h *Handler) respondDecision(w http.ResponseWriter, item review.WorkItem) {
	httpx.JSON(w, http.StatusOK, map[string]string{
		"work_item_id": item.ID.String(),
		"status":       string(item.Status),
		"outcome":      string(item.Outcome),
	})
}

func toAssetResponse(asset Asset) assetResponse {
	return assetResponse{
		ID:            asset.ID,
		TerritoryID:   asset.TerritoryID,
		Name:          asset.Name,
		Description:   asset.Description,
		SuggestedBy:   asset.SuggestedBy,
		Status:        string(asset.Status),
		CuratedBy:     asset.CuratedBy,
		CuratedAt:     asset.CuratedAt,
		CurationNotes: asset.CurationNotes,
		CreatedAt:     asset.CreatedAt,
	}
}
