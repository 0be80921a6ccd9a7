package territory

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

// Handler exposes territory, membership and residency endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the territory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers authenticated routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/territories", h.Create)
	r.Get("/territories", h.List)
	r.Get("/territories/{id}", h.Show)
	r.Post("/territories/{id}/join", h.Join)
	r.Post("/territories/{id}/leave", h.Leave)
	r.Get("/territories/memberships", h.ListMemberships)
	r.Post("/territories/{id}/residency", h.SubmitResidency)
	r.Post("/territories/residency/{workItemID}/decision", h.DecideResidency)
	r.Post("/territories/{id}/members/{userID}/capabilities", h.GrantCapability)
	r.Delete("/territories/{id}/members/{userID}/capabilities/{capability}", h.RevokeCapability)
}

type createTerritoryRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type territoryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Handle      string    `json:"handle"`
	Description string    `json:"description,omitempty"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTerritoryResponse(t Territory) territoryResponse {
	return territoryResponse{
		ID:          t.ID,
		Name:        t.Name,
		Handle:      t.Handle,
		Description: t.Description,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

// Create founds a territory.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	var req createTerritoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	territory, err := h.service.Create(r.Context(), CreateInput{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   actor,
	})
	if err != nil {
		h.logger.Error("create territory", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTerritoryResponse(territory))
}

// List returns all territories.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	territories, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]territoryResponse, 0, len(territories))
	for _, t := range territories {
		resp = append(resp, toTerritoryResponse(t))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Show returns a single territory.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	territory, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTerritoryResponse(territory))
}

type joinRequest struct {
	Role string `json:"role" validate:"required,oneof=VISITOR RESIDENT"`
}

type membershipResponse struct {
	ID                  int64      `json:"id"`
	TerritoryID         int64      `json:"territory_id"`
	UserID              int64      `json:"user_id"`
	Role                string     `json:"role"`
	Status              string     `json:"status"`
	JoinedAt            time.Time  `json:"joined_at"`
	ResidencyVerifiedAt *time.Time `json:"residency_verified_at,omitempty"`
}

func toMembershipResponse(m Membership) membershipResponse {
	return membershipResponse{
		ID:                  m.ID,
		TerritoryID:         m.TerritoryID,
		UserID:              m.UserID,
		Role:                string(m.Role),
		Status:              string(m.Status),
		JoinedAt:            m.JoinedAt,
		ResidencyVerifiedAt: m.ResidencyVerifiedAt,
	}
}

// Join adds the caller to a territory.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req joinRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role must be VISITOR or RESIDENT")
		return
	}

	membership, err := h.service.Join(r.Context(), actor, id, MembershipRole(req.Role))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMembershipResponse(membership))
}

// Leave closes the caller's membership.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Leave(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMemberships returns the caller's memberships.
func (h *Handler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	memberships, err := h.service.ListMemberships(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		resp = append(resp, toMembershipResponse(m))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type submitResidencyRequest struct {
	EvidenceRef string `json:"evidence_ref" validate:"required"`
}

// SubmitResidency queues the caller's residency evidence for review.
func (h *Handler) SubmitResidency(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitResidencyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "evidence_ref is required")
		return
	}

	item, err := h.service.SubmitResidencyDocument(r.Context(), actor, id, req.EvidenceRef)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"work_item_id": item.ID.String(),
		"status":       string(item.Status),
	})
}

type decisionRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// DecideResidency applies a moderator decision to a residency item.
func (h *Handler) DecideResidency(w http.ResponseWriter, r *http.Request) {
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

	item, err := h.service.DecideResidency(r.Context(), workItemID, actor, review.Outcome(req.Outcome), req.Notes)
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

type capabilityRequest struct {
	Capability string `json:"capability" validate:"required"`
}

// GrantCapability attaches a capability to a member.
func (h *Handler) GrantCapability(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	territoryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req capabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "capability is required")
		return
	}

	if err := h.service.GrantCapability(r.Context(), actor, territoryID, userID, req.Capability); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeCapability withdraws a member's capability.
func (h *Handler) RevokeCapability(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	territoryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	capability := chi.URLParam(r, "capability")

	if err := h.service.RevokeCapability(r.Context(), actor, territoryID, userID, capability); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}
