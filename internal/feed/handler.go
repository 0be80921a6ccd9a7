package feed

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sraphaz/araponga-sub002/internal/platform/httpx"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// Handler exposes the feed endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the feed handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers authenticated routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/territories/{id}/posts", h.CreatePost)
	r.Get("/territories/{id}/feed", h.ListFeed)
	r.Get("/posts/{id}", h.ShowPost)
}

type createPostRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

type postResponse struct {
	ID          int64     `json:"id"`
	TerritoryID int64     `json:"territory_id"`
	AuthorID    int64     `json:"author_id"`
	Body        string    `json:"body"`
	Hidden      bool      `json:"hidden"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreatePost publishes a post in a territory.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
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
	var req createPostRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "body is required")
		return
	}

	post, err := h.service.CreatePost(r.Context(), actor, territoryID, req.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPostResponse(post))
}

// ListFeed returns visible posts in a territory.
func (h *Handler) ListFeed(w http.ResponseWriter, r *http.Request) {
	territoryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid territory id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	posts, err := h.service.ListVisible(r.Context(), territoryID, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		resp = append(resp, toPostResponse(post))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// ShowPost returns a single post.
func (h *Handler) ShowPost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid post id")
		return
	}
	post, err := h.service.GetPost(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPostResponse(post))
}

func toPostResponse(post Post) postResponse {
	return postResponse{
		ID:          post.ID,
		TerritoryID: post.TerritoryID,
		AuthorID:    post.AuthorID,
		Body:        post.Body,
		Hidden:      post.Hidden,
		CreatedAt:   post.CreatedAt,
	}
}
