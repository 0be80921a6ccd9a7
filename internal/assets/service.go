package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
	"github.com/sraphaz/araponga-sub002/internal/territory"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAsset(ctx context.Context, id int64) (Asset, error)
	ListByTerritory(ctx context.Context, territoryID int64, status *AssetStatus) ([]Asset, error)
}

// ReviewPort exposes pool-bound review reads.
type ReviewPort interface {
	GetByID(ctx context.Context, id uuid.UUID) (review.WorkItem, error)
	LatestOpenBySubject(ctx context.Context, itemType review.WorkItemType, subject review.SubjectRef) (*review.WorkItem, error)
}

// GatePort answers authorization questions.
type GatePort interface {
	CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error)
}

// MembershipSource checks territory membership, backed by territory.
type MembershipSource interface {
	IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error)
}

// Service orchestrates asset suggestion and curation.
type Service struct {
	repo        RepositoryPort
	reviews     ReviewPort
	gate        GatePort
	memberships MembershipSource
	audit       shared.AuditRecorder
	logger      *slog.Logger
}

// NewService constructs the assets service.
func NewService(repo RepositoryPort, reviews ReviewPort, gate GatePort, memberships MembershipSource, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, reviews: reviews, gate: gate, memberships: memberships, audit: audit, logger: logger}
}

// SuggestInput describes a new asset suggestion.
type SuggestInput struct {
	TerritoryID int64
	Name        string
	Description string
	SuggestedBy int64
}

// Suggest records an asset suggestion and queues its curation work item
// in the same transaction. Any active member may suggest.
func (s *Service) Suggest(ctx context.Context, in SuggestInput) (Asset, review.WorkItem, error) {
	if in.Name == "" {
		return Asset{}, review.WorkItem{}, fmt.Errorf("%w: asset name required", shared.ErrValidation)
	}
	member, err := s.memberships.IsActiveMember(ctx, in.SuggestedBy, in.TerritoryID)
	if err != nil {
		return Asset{}, review.WorkItem{}, err
	}
	if !member {
		return Asset{}, review.WorkItem{}, fmt.Errorf("%w: active membership required", shared.ErrForbidden)
	}

	asset := Asset{
		TerritoryID: in.TerritoryID,
		Name:        in.Name,
		Description: in.Description,
		SuggestedBy: in.SuggestedBy,
		Status:      AssetSuggested,
		CreatedAt:   time.Now().UTC(),
	}
	var item review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateAsset(ctx, asset)
		if err != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		asset.ID = id

		payload, err := json.Marshal(map[string]string{"name": in.Name})
		if err != nil {
			return err
		}
		item, err = tx.Reviews().Create(ctx, review.CreateInput{
			Type:        review.TypeAssetCuration,
			TerritoryID: &in.TerritoryID,
			Requirement: review.TerritoryCapability(territory.CapabilityCurator),
			Subject:     review.SubjectRef{Type: review.SubjectAsset, ID: id},
			Payload:     payload,
			CreatedBy:   in.SuggestedBy,
		})
		if err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     in.SuggestedBy,
			Action:      "asset.suggested",
			TerritoryID: &in.TerritoryID,
			Entity:      "asset",
			EntityID:    fmt.Sprintf("%d", id),
		})
	})
	if err != nil {
		return Asset{}, review.WorkItem{}, err
	}
	return asset, item, nil
}

// DecideByWorkItem applies a curator decision addressed by work item id.
func (s *Service) DecideByWorkItem(ctx context.Context, workItemID uuid.UUID, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	item, err := s.reviews.GetByID(ctx, workItemID)
	if err != nil {
		return review.WorkItem{}, err
	}
	return s.decide(ctx, item, reviewer, outcome, notes)
}

// DecideByAsset applies a curator decision addressed by asset id. It
// locates the open curation item for the asset so both entry points
// converge on the same completion and the single-decision guarantee
// holds.
func (s *Service) DecideByAsset(ctx context.Context, assetID, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	open, err := s.reviews.LatestOpenBySubject(ctx, review.TypeAssetCuration, review.SubjectRef{Type: review.SubjectAsset, ID: assetID})
	if err != nil {
		return review.WorkItem{}, err
	}
	if open == nil {
		return review.WorkItem{}, fmt.Errorf("%w: no open curation for asset %d", shared.ErrNotFound, assetID)
	}
	return s.decide(ctx, *open, reviewer, outcome, notes)
}

func (s *Service) decide(ctx context.Context, item review.WorkItem, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	if item.Type != review.TypeAssetCuration {
		return review.WorkItem{}, fmt.Errorf("%w: not an asset curation item", shared.ErrValidation)
	}

	allowed, err := s.gate.CanDecide(ctx, reviewer, item)
	if err != nil {
		return review.WorkItem{}, err
	}
	if !allowed {
		s.auditForbidden(ctx, reviewer, item)
		return review.WorkItem{}, fmt.Errorf("%w: reviewer lacks %s", shared.ErrForbidden, territory.CapabilityCurator)
	}

	var completed review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAsset(ctx, item.Subject.ID)
		if err != nil {
			return err
		}
		if item.TerritoryID == nil || asset.TerritoryID != *item.TerritoryID {
			return fmt.Errorf("%w: asset no longer belongs to the item's territory", shared.ErrInvalidState)
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

		status := AssetRejected
		action := "asset.rejected"
		if outcome == review.OutcomeApproved {
			status = AssetApproved
			action = "asset.approved"
		}
		var curationNotes *string
		if notes != "" {
			curationNotes = &notes
		}
		if err := tx.SetCuration(ctx, asset.ID, status, reviewer, time.Now().UTC(), curationNotes); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     reviewer,
			Action:      action,
			TerritoryID: item.TerritoryID,
			Entity:      "asset",
			EntityID:    fmt.Sprintf("%d", asset.ID),
			Meta:        map[string]any{"work_item_id": item.ID.String()},
		})
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return completed, nil
}

// GetAsset fetches an asset.
func (s *Service) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

// ListByTerritory returns a territory's assets.
func (s *Service) ListByTerritory(ctx context.Context, territoryID int64, status *AssetStatus) ([]Asset, error) {
	return s.repo.ListByTerritory(ctx, territoryID, status)
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
