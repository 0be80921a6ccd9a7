package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
	ListGrants(ctx context.Context, userID int64) ([]PermissionGrant, error)
}

// ReviewPort exposes the pool-bound review reads the service needs
// outside a transaction.
type ReviewPort interface {
	GetByID(ctx context.Context, id uuid.UUID) (review.WorkItem, error)
}

// GatePort answers and invalidates authorization questions.
type GatePort interface {
	CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error)
	Invalidate(ctx context.Context, actorID int64) error
}

// Service orchestrates user accounts, identity verification and global
// permission grants.
type Service struct {
	repo    RepositoryPort
	reviews ReviewPort
	gate    GatePort
	audit   shared.AuditRecorder
	logger  *slog.Logger
}

// NewService constructs the identity service.
func NewService(repo RepositoryPort, reviews ReviewPort, gate GatePort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, reviews: reviews, gate: gate, audit: audit, logger: logger}
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// Register creates a user account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	if in.Email == "" || in.Password == "" {
		return User{}, fmt.Errorf("%w: email and password required", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		Email:          in.Email,
		DisplayName:    in.DisplayName,
		PasswordHash:   string(hash),
		IsActive:       true,
		IdentityStatus: IdentityNone,
		CreatedAt:      time.Now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateUser(ctx, user)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		user.ID = id
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:  id,
			Action:   "user.registered",
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", id),
		})
	})
	if err != nil {
		return User{}, err
	}
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

// GetUser fetches a user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// SubmitDocument records uploaded identity evidence: the user flips to
// PENDING and a global review work item is queued. At most one open
// verification per user.
func (s *Service) SubmitDocument(ctx context.Context, userID int64, evidenceRef string) (review.WorkItem, error) {
	if evidenceRef == "" {
		return review.WorkItem{}, fmt.Errorf("%w: evidence reference required", shared.ErrValidation)
	}

	var item review.WorkItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		subject := review.SubjectRef{Type: review.SubjectUser, ID: user.ID}
		open, err := tx.Reviews().LatestOpenBySubject(ctx, review.TypeIdentityVerification, subject)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: identity verification already pending", shared.ErrInvalidState)
		}

		if err := tx.SetIdentityStatus(ctx, user.ID, IdentityPending, nil); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]string{"evidence_ref": evidenceRef})
		if err != nil {
			return err
		}
		item, err = tx.Reviews().Create(ctx, review.CreateInput{
			Type:        review.TypeIdentityVerification,
			Requirement: review.SystemPermission(PermissionReviewIdentity),
			Subject:     subject,
			Payload:     payload,
			CreatedBy:   user.ID,
		})
		return err
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return item, nil
}

// Decide applies a reviewer's identity verification decision: the user
// record and the work item flip together in one transaction.
func (s *Service) Decide(ctx context.Context, workItemID uuid.UUID, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	item, err := s.reviews.GetByID(ctx, workItemID)
	if err != nil {
		return review.WorkItem{}, err
	}
	if item.Type != review.TypeIdentityVerification {
		return review.WorkItem{}, fmt.Errorf("%w: not an identity verification item", shared.ErrValidation)
	}

	allowed, err := s.gate.CanDecide(ctx, reviewer, item)
	if err != nil {
		return review.WorkItem{}, err
	}
	if !allowed {
		s.auditForbidden(ctx, reviewer, item)
		return review.WorkItem{}, fmt.Errorf("%w: reviewer lacks %s", shared.ErrForbidden, PermissionReviewIdentity)
	}

	var completed review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetUser(ctx, item.Subject.ID)
		if err != nil {
			return err
		}

		status := IdentityRejected
		var verifiedAt *time.Time
		if outcome == review.OutcomeApproved {
			status = IdentityVerified
			now := time.Now().UTC()
			verifiedAt = &now
		}

		completed, err = tx.Reviews().Complete(ctx, review.CompleteInput{
			ID:       item.ID,
			Reviewer: reviewer,
			Outcome:  outcome,
			Notes:    notes,
		})
		if err != nil {
			return err
		}
		if err := tx.SetIdentityStatus(ctx, user.ID, status, verifiedAt); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:  reviewer,
			Action:   "identity." + actionSuffix(outcome),
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", user.ID),
			Meta:     map[string]any{"work_item_id": item.ID.String()},
		})
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return completed, nil
}

// GrantPermission gives a user a global permission. Caller must hold
// platform.admin.
func (s *Service) GrantPermission(ctx context.Context, actorID, userID int64, permission string) error {
	if permission == "" {
		return fmt.Errorf("%w: permission tag required", shared.ErrValidation)
	}
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		_, err := tx.InsertGrant(ctx, PermissionGrant{
			UserID:     userID,
			Permission: permission,
			GrantedBy:  actorID,
			GrantedAt:  time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "permission.granted",
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", userID),
			Meta:     map[string]any{"permission": permission},
		})
	})
	if err != nil {
		return err
	}
	// Let the new grant take effect without waiting for cache expiry.
	if err := s.gate.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate authz cache", slog.Any("error", err))
	}
	return nil
}

// RevokePermission withdraws a grant and synchronously invalidates the
// user's cached authorization answers. A revoked reviewer must not be
// able to decide on a stale cached grant.
func (s *Service) RevokePermission(ctx context.Context, actorID, userID int64, permission string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		revoked, err := tx.RevokeGrant(ctx, userID, permission, time.Now().UTC())
		if err != nil {
			return err
		}
		if !revoked {
			return fmt.Errorf("%w: no active grant of %s", shared.ErrNotFound, permission)
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "permission.revoked",
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", userID),
			Meta:     map[string]any{"permission": permission},
		})
	})
	if err != nil {
		return err
	}
	if err := s.gate.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate authz cache: %w", err)
	}
	return nil
}

// ListGrants returns the user's permission grants.
func (s *Service) ListGrants(ctx context.Context, userID int64) ([]PermissionGrant, error) {
	return s.repo.ListGrants(ctx, userID)
}

// HasPermission reports whether a user holds an active grant. Wired
// into the review gate as its system-permission source.
func (s *Service) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return s.repo.HasPermission(ctx, userID, permission)
}

func (s *Service) requireAdmin(ctx context.Context, actorID int64) error {
	ok, err := s.repo.HasPermission(ctx, actorID, PermissionAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s required", shared.ErrForbidden, PermissionAdmin)
	}
	return nil
}

// auditForbidden records a denied decision attempt. Best effort: a
// failed audit write must not mask the Forbidden result.
func (s *Service) auditForbidden(ctx context.Context, actorID int64, item review.WorkItem) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:     actorID,
		Action:      "work_item.forbidden",
		TerritoryID: item.TerritoryID,
		Entity:      "work_item",
		EntityID:    item.ID.String(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit forbidden attempt", slog.Any("error", err))
	}
}

func actionSuffix(outcome review.Outcome) string {
	if outcome == review.OutcomeApproved {
		return "verified"
	}
	return "rejected"
}
