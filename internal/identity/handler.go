package identity

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

// Handler exposes account, verification and permission endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the identity handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountPublic registers routes that need no session.
func (h *Handler) MountPublic(r chi.Router) {
	r.Post("/identity/register", h.Register)
}

// MountRoutes registers authenticated routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/identity/me", h.Me)
	r.Post("/identity/verification", h.SubmitDocument)
	r.Post("/identity/verification/{id}/decision", h.Decide)
	r.Get("/identity/users/{id}/permissions", h.ListGrants)
	r.Post("/identity/users/{id}/permissions", h.GrantPermission)
	r.Delete("/identity/users/{id}/permissions/{permission}", h.RevokePermission)
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,max=120"`
	Password    string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	DisplayName        string     `json:"display_name"`
	IdentityStatus     string     `json:"identity_status"`
	IdentityVerifiedAt *time.Time `json:"identity_verified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Register creates an account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput(req))
	if err != nil {
		h.logger.Error("register user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(user))
}

// Me returns the calling user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	user, err := h.service.GetUser(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

type submitDocumentRequest struct {
	EvidenceRef string `json:"evidence_ref" validate:"required"`
}

// SubmitDocument queues the caller's identity evidence for review.
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	var req submitDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "evidence_ref is required")
		return
	}

	item, err := h.service.SubmitDocument(r.Context(), actor, req.EvidenceRef)
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

// Decide applies a reviewer decision to an identity verification item.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
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

	item, err := h.service.Decide(r.Context(), id, actor, review.Outcome(req.Outcome), req.Notes)
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

type grantRequest struct {
	Permission string `json:"permission" validate:"required,max=120"`
}

// GrantPermission gives a user a global permission.
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission is required")
		return
	}

	if err := h.service.GrantPermission(r.Context(), actor, userID, req.Permission); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokePermission withdraws a user's global permission.
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor")
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	permission := chi.URLParam(r, "permission")

	if err := h.service.RevokePermission(r.Context(), actor, userID, permission); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantResponse struct {
	Permission string     `json:"permission"`
	GrantedBy  int64      `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// ListGrants returns a user's permission grants.
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	grants, err := h.service.ListGrants(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		resp = append(resp, grantResponse{Permission: g.Permission, GrantedBy: g.GrantedBy, GrantedAt: g.GrantedAt, RevokedAt: g.RevokedAt})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func toUserResponse(user User) userResponse {
	return userResponse{
		ID:                 user.ID,
		Email:              user.Email,
		DisplayName:        user.DisplayName,
		IdentityStatus:     string(user.IdentityStatus),
		IdentityVerifiedAt: user.IdentityVerifiedAt,
		CreatedAt:          user.CreatedAt,
	}
}
