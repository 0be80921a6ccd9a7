package review

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/platform/httpx"
)

// Handler exposes the reviewer-facing queue endpoints. Decisions are not
// made here; each subject domain mounts its own decision endpoint.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs the queue handler over a pool-bound engine.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers queue routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/review/queue", h.ListQueue)
	r.Get("/review/items/{id}", h.Show)
}

type workItemResponse struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	TerritoryID     *int64     `json:"territory_id,omitempty"`
	RequirementKind string     `json:"requirement_kind"`
	RequirementTag  string     `json:"requirement_tag"`
	SubjectType     string     `json:"subject_type"`
	SubjectID       int64      `json:"subject_id"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	Outcome         string     `json:"outcome"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletedBy     *int64     `json:"completed_by,omitempty"`
	CompletionNotes *string    `json:"completion_notes,omitempty"`
}

type queueResponse struct {
	Items []workItemResponse `json:"items"`
	Total int                `json:"total"`
}

// ListQueue returns work items filtered by status, type and territory.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	filter := QueueFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := WorkItemStatus(raw)
		if !status.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
			return
		}
		filter.Status = &status
	} else {
		status := StatusRequiresHumanReview
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		itemType := WorkItemType(raw)
		if !itemType.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown type")
			return
		}
		filter.Type = &itemType
	}
	if raw := r.URL.Query().Get("territory_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid territory_id")
			return
		}
		filter.TerritoryID = &id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			filter.Offset = offset
		}
	}

	items, total, err := h.engine.ListQueue(r.Context(), filter)
	if err != nil {
		h.logger.Error("list review queue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	resp := queueResponse{Items: make([]workItemResponse, 0, len(items)), Total: total}
	for _, item := range items {
		resp.Items = append(resp.Items, toResponse(item))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Show returns a single work item by id.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid work item id")
		return
	}
	item, err := h.engine.GetByID(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func toResponse(item WorkItem) workItemResponse {
	return workItemResponse{
		ID:              item.ID.String(),
		Type:            string(item.Type),
		Status:          string(item.Status),
		TerritoryID:     item.TerritoryID,
		RequirementKind: string(item.Requirement.Kind),
		RequirementTag:  item.Requirement.Tag,
		SubjectType:     item.Subject.Type,
		SubjectID:       item.Subject.ID,
		CreatedBy:       item.CreatedBy,
		CreatedAt:       item.CreatedAt,
		Outcome:         string(item.Outcome),
		CompletedAt:     item.CompletedAt,
		CompletedBy:     item.CompletedBy,
		CompletionNotes: item.CompletionNotes,
	}
}
