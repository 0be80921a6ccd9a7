package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// MembershipSource checks whether a user is an active member of a
// territory, backed by the territory package.
type MembershipSource interface {
	IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error)
}

// SanctionSource reports active posting restrictions, backed by the
// moderation package.
type SanctionSource interface {
	HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error)
}

// Service is the thin post gateway: create, read, list. Visibility is
// mutated only by moderation decisions, through the store directly.
type Service struct {
	store       Store
	memberships MembershipSource
	sanctions   SanctionSource
	audit       shared.AuditRecorder
	logger      *slog.Logger
}

// NewService constructs the feed service.
func NewService(store Store, memberships MembershipSource, sanctions SanctionSource, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, memberships: memberships, sanctions: sanctions, audit: audit, logger: logger}
}

// CreatePost publishes a post. Requires an active membership and no
// active posting sanction.
func (s *Service) CreatePost(ctx context.Context, authorID, territoryID int64, body string) (Post, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > 10000 {
		return Post{}, fmt.Errorf("%w: post body must be 1-10000 chars", shared.ErrValidation)
	}

	member, err := s.memberships.IsActiveMember(ctx, authorID, territoryID)
	if err != nil {
		return Post{}, err
	}
	if !member {
		return Post{}, fmt.Errorf("%w: active membership required", shared.ErrForbidden)
	}
	sanctioned, err := s.sanctions.HasActiveSanction(ctx, authorID, territoryID)
	if err != nil {
		return Post{}, err
	}
	if sanctioned {
		return Post{}, fmt.Errorf("%w: posting restricted by active sanction", shared.ErrForbidden)
	}

	post := Post{
		TerritoryID: territoryID,
		AuthorID:    authorID,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.store.Insert(ctx, post)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	post.ID = id

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:     authorID,
		Action:      "post.created",
		TerritoryID: &territoryID,
		Entity:      "post",
		EntityID:    fmt.Sprintf("%d", id),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit post creation", slog.Any("error", err))
	}
	return post, nil
}

// GetPost fetches a post.
func (s *Service) GetPost(ctx context.Context, id int64) (Post, error) {
	return s.store.GetByID(ctx, id)
}

// ListVisible returns a territory's visible posts, newest first.
func (s *Service) ListVisible(ctx context.Context, territoryID int64, limit, offset int) ([]Post, error) {
	return s.store.ListVisible(ctx, territoryID, limit, offset)
}
