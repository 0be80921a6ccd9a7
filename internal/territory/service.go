package territory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTerritory(ctx context.Context, id int64) (Territory, error)
	GetTerritoryByHandle(ctx context.Context, handle string) (Territory, error)
	ListTerritories(ctx context.Context) ([]Territory, error)
	GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error)
	ListMemberships(ctx context.Context, userID int64) ([]Membership, error)
	HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error)
}

// ReviewPort exposes pool-bound review reads.
type ReviewPort interface {
	GetByID(ctx context.Context, id uuid.UUID) (review.WorkItem, error)
}

// GatePort answers and invalidates authorization questions.
type GatePort interface {
	CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error)
	Invalidate(ctx context.Context, actorID int64) error
}

// PermissionSource checks global permissions, backed by identity.
type PermissionSource interface {
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
}

// AdminPermission lets platform operators manage any territory.
const AdminPermission = "platform.admin"

// Service orchestrates territories, memberships, capability grants and
// residency verification.
type Service struct {
	repo        RepositoryPort
	reviews     ReviewPort
	gate        GatePort
	permissions PermissionSource
	audit       shared.AuditRecorder
	logger      *slog.Logger
}

// NewService constructs the territory service.
func NewService(repo RepositoryPort, reviews ReviewPort, gate GatePort, permissions PermissionSource, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, reviews: reviews, gate: gate, permissions: permissions, audit: audit, logger: logger}
}

// CreateInput describes a new territory.
type CreateInput struct {
	Name        string
	Description string
	CreatedBy   int64
}

// Create founds a territory. The founder joins as resident and receives
// the curator and moderator capabilities so the territory can operate
// before any platform operator steps in.
func (s *Service) Create(ctx context.Context, in CreateInput) (Territory, error) {
	if in.Name == "" {
		return Territory{}, fmt.Errorf("%w: territory name required", shared.ErrValidation)
	}
	handle, err := NormalizeHandle(in.Name)
	if err != nil {
		return Territory{}, err
	}
	if _, err := s.repo.GetTerritoryByHandle(ctx, handle); err == nil {
		return Territory{}, fmt.Errorf("%w: handle %q already taken", shared.ErrInvalidState, handle)
	}

	now := time.Now().UTC()
	territory := Territory{
		Name:        in.Name,
		Handle:      handle,
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateTerritory(ctx, territory)
		if err != nil {
			return fmt.Errorf("create territory: %w", err)
		}
		territory.ID = id

		membershipID, err := tx.CreateMembership(ctx, Membership{
			TerritoryID: id,
			UserID:      in.CreatedBy,
			Role:        RoleResident,
			Status:      MembershipActive,
			JoinedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("create founder membership: %w", err)
		}
		for _, capability := range []string{CapabilityCurator, CapabilityModerator} {
			if _, err := tx.InsertCapability(ctx, CapabilityGrant{
				MembershipID: membershipID,
				Capability:   capability,
				GrantedBy:    in.CreatedBy,
				GrantedAt:    now,
			}); err != nil {
				return fmt.Errorf("grant founder capability: %w", err)
			}
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     in.CreatedBy,
			Action:      "territory.created",
			TerritoryID: &id,
			Entity:      "territory",
			EntityID:    handle,
		})
	})
	if err != nil {
		return Territory{}, err
	}
	return territory, nil
}

// Get fetches a territory.
func (s *Service) Get(ctx context.Context, id int64) (Territory, error) {
	return s.repo.GetTerritory(ctx, id)
}

// List returns all territories.
func (s *Service) List(ctx context.Context) ([]Territory, error) {
	return s.repo.ListTerritories(ctx)
}

// Join adds the actor to a territory with the given role, reactivating
// a previously closed membership if one exists.
func (s *Service) Join(ctx context.Context, actorID, territoryID int64, role MembershipRole) (Membership, error) {
	if role != RoleVisitor && role != RoleResident {
		return Membership{}, fmt.Errorf("%w: role must be VISITOR or RESIDENT", shared.ErrValidation)
	}
	if _, err := s.repo.GetTerritory(ctx, territoryID); err != nil {
		return Membership{}, err
	}

	var membership Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetMembership(ctx, territoryID, actorID)
		switch {
		case err == nil && existing.Active():
			return fmt.Errorf("%w: already a member", shared.ErrInvalidState)
		case err == nil:
			if err := tx.ReactivateMembership(ctx, existing.ID, role); err != nil {
				return err
			}
			membership = existing
			membership.Role = role
			membership.Status = MembershipActive
			membership.LeftAt = nil
		case shared.IsNotFound(err):
			membership = Membership{
				TerritoryID: territoryID,
				UserID:      actorID,
				Role:        role,
				Status:      MembershipActive,
				JoinedAt:    time.Now().UTC(),
			}
			id, err := tx.CreateMembership(ctx, membership)
			if err != nil {
				return fmt.Errorf("create membership: %w", err)
			}
			membership.ID = id
		default:
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     actorID,
			Action:      "territory.joined",
			TerritoryID: &territoryID,
			Entity:      "membership",
			EntityID:    fmt.Sprintf("%d", membership.ID),
			Meta:        map[string]any{"role": string(role)},
		})
	})
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

// Leave closes the actor's membership. Capabilities tied to it stop
// counting immediately, so the authorization cache is invalidated.
func (s *Service) Leave(ctx context.Context, actorID, territoryID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		membership, err := tx.GetMembership(ctx, territoryID, actorID)
		if err != nil {
			return err
		}
		if !membership.Active() {
			return fmt.Errorf("%w: membership already closed", shared.ErrInvalidState)
		}
		if err := tx.CloseMembership(ctx, membership.ID, time.Now().UTC()); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     actorID,
			Action:      "territory.left",
			TerritoryID: &territoryID,
			Entity:      "membership",
			EntityID:    fmt.Sprintf("%d", membership.ID),
		})
	})
	if err != nil {
		return err
	}
	if err := s.gate.Invalidate(ctx, actorID); err != nil {
		return fmt.Errorf("invalidate authz cache: %w", err)
	}
	return nil
}

// ListMemberships returns the actor's memberships.
func (s *Service) ListMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	return s.repo.ListMemberships(ctx, userID)
}

// SubmitResidencyDocument queues residency evidence for review. Only an
// active resident membership qualifies; the review is territory-scoped
// and decided by moderators.
func (s *Service) SubmitResidencyDocument(ctx context.Context, actorID, territoryID int64, evidenceRef string) (review.WorkItem, error) {
	if evidenceRef == "" {
		return review.WorkItem{}, fmt.Errorf("%w: evidence reference required", shared.ErrValidation)
	}

	var item review.WorkItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		membership, err := tx.GetMembership(ctx, territoryID, actorID)
		if err != nil {
			return err
		}
		if !membership.Active() || membership.Role != RoleResident {
			return fmt.Errorf("%w: active resident membership required", shared.ErrValidation)
		}
		if membership.ResidencyVerifiedAt != nil {
			return fmt.Errorf("%w: residency already verified", shared.ErrInvalidState)
		}

		subject := review.SubjectRef{Type: review.SubjectMembership, ID: membership.ID}
		open, err := tx.Reviews().LatestOpenBySubject(ctx, review.TypeResidencyVerification, subject)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: residency verification already pending", shared.ErrInvalidState)
		}

		payload, err := json.Marshal(map[string]string{"evidence_ref": evidenceRef})
		if err != nil {
			return err
		}
		item, err = tx.Reviews().Create(ctx, review.CreateInput{
			Type:        review.TypeResidencyVerification,
			TerritoryID: &territoryID,
			Requirement: review.TerritoryCapability(CapabilityModerator),
			Subject:     subject,
			Payload:     payload,
			CreatedBy:   actorID,
		})
		return err
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return item, nil
}

// DecideResidency applies a moderator's residency decision. Approval
// stamps the membership; rejection leaves only the audit trail.
func (s *Service) DecideResidency(ctx context.Context, workItemID uuid.UUID, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	item, err := s.reviews.GetByID(ctx, workItemID)
	if err != nil {
		return review.WorkItem{}, err
	}
	if item.Type != review.TypeResidencyVerification {
		return review.WorkItem{}, fmt.Errorf("%w: not a residency verification item", shared.ErrValidation)
	}

	allowed, err := s.gate.CanDecide(ctx, reviewer, item)
	if err != nil {
		return review.WorkItem{}, err
	}
	if !allowed {
		s.auditForbidden(ctx, reviewer, item)
		return review.WorkItem{}, fmt.Errorf("%w: reviewer lacks %s", shared.ErrForbidden, CapabilityModerator)
	}

	var completed review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		membership, err := tx.GetMembershipByID(ctx, item.Subject.ID)
		if err != nil {
			return err
		}
		if item.TerritoryID == nil || membership.TerritoryID != *item.TerritoryID {
			return fmt.Errorf("%w: membership no longer belongs to the item's territory", shared.ErrInvalidState)
		}
		if !membership.Active() {
			return fmt.Errorf("%w: membership no longer active", shared.ErrInvalidState)
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
		action := "residency.rejected"
		if outcome == review.OutcomeApproved {
			if err := tx.SetResidencyVerified(ctx, membership.ID, time.Now().UTC()); err != nil {
				return err
			}
			action = "residency.verified"
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     reviewer,
			Action:      action,
			TerritoryID: item.TerritoryID,
			Entity:      "membership",
			EntityID:    fmt.Sprintf("%d", membership.ID),
			Meta:        map[string]any{"work_item_id": item.ID.String()},
		})
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return completed, nil
}

// GrantCapability attaches a capability to a member's active
// membership. Platform admins and territory moderators may grant.
func (s *Service) GrantCapability(ctx context.Context, actorID, territoryID, userID int64, capability string) error {
	if capability != CapabilityCurator && capability != CapabilityModerator {
		return fmt.Errorf("%w: unknown capability %q", shared.ErrValidation, capability)
	}
	if err := s.requireTerritoryAdmin(ctx, actorID, territoryID); err != nil {
		return err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		membership, err := tx.GetMembership(ctx, territoryID, userID)
		if err != nil {
			return err
		}
		if !membership.Active() {
			return fmt.Errorf("%w: membership not active", shared.ErrInvalidState)
		}
		if _, err := tx.InsertCapability(ctx, CapabilityGrant{
			MembershipID: membership.ID,
			Capability:   capability,
			GrantedBy:    actorID,
			GrantedAt:    time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("insert capability: %w", err)
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     actorID,
			Action:      "capability.granted",
			TerritoryID: &territoryID,
			Entity:      "membership",
			EntityID:    fmt.Sprintf("%d", membership.ID),
			Meta:        map[string]any{"capability": capability},
		})
	})
	if err != nil {
		return err
	}
	// Let the new capability take effect without waiting for expiry.
	if err := s.gate.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate authz cache", slog.Any("error", err))
	}
	return nil
}

// RevokeCapability withdraws a capability and synchronously invalidates
// the member's cached authorization answers: a revoked moderator must
// not decide on a stale cached grant.
func (s *Service) RevokeCapability(ctx context.Context, actorID, territoryID, userID int64, capability string) error {
	if err := s.requireTerritoryAdmin(ctx, actorID, territoryID); err != nil {
		return err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		membership, err := tx.GetMembership(ctx, territoryID, userID)
		if err != nil {
			return err
		}
		revoked, err := tx.RevokeCapability(ctx, membership.ID, capability, time.Now().UTC())
		if err != nil {
			return err
		}
		if !revoked {
			return fmt.Errorf("%w: no active grant of %s", shared.ErrNotFound, capability)
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     actorID,
			Action:      "capability.revoked",
			TerritoryID: &territoryID,
			Entity:      "membership",
			EntityID:    fmt.Sprintf("%d", membership.ID),
			Meta:        map[string]any{"capability": capability},
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

// HasCapability reports whether the user's active membership carries
// the capability. Wired into the review gate as its capability source.
func (s *Service) HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error) {
	return s.repo.HasCapability(ctx, userID, territoryID, capability)
}

// IsActiveMember reports whether the user currently belongs to the
// territory. Feed, assets and moderation use it as their membership
// source.
func (s *Service) IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error) {
	membership, err := s.repo.GetMembership(ctx, territoryID, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return membership.Active(), nil
}

func (s *Service) requireTerritoryAdmin(ctx context.Context, actorID, territoryID int64) error {
	admin, err := s.permissions.HasPermission(ctx, actorID, AdminPermission)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	moderator, err := s.repo.HasCapability(ctx, actorID, territoryID, CapabilityModerator)
	if err != nil {
		return err
	}
	if !moderator {
		return fmt.Errorf("%w: %s or %s required", shared.ErrForbidden, AdminPermission, CapabilityModerator)
	}
	return nil
}

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
