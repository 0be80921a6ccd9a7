package moderation

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
	GetReport(ctx context.Context, id int64) (Report, error)
	ListReports(ctx context.Context, territoryID int64, status *ReportStatus) ([]Report, error)
	HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error)
	ListEscalatable(ctx context.Context, since time.Time, threshold int) ([]EscalationCandidate, error)
}

// ReviewPort exposes pool-bound review reads.
type ReviewPort interface {
	GetByID(ctx context.Context, id uuid.UUID) (review.WorkItem, error)
}

// GatePort answers authorization questions.
type GatePort interface {
	CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error)
}

// MembershipSource checks territory membership, backed by territory.
type MembershipSource interface {
	IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error)
}

// Config holds the escalation and sanction policy knobs.
type Config struct {
	// ReportThreshold is the distinct-reporter count that opens a case.
	ReportThreshold int
	// ReportWindow is the rolling window the count applies to.
	ReportWindow time.Duration
	// SanctionDuration is the length of an imposed posting restriction.
	SanctionDuration time.Duration
}

// Service orchestrates reports, escalation to moderation cases, and
// case decisions.
type Service struct {
	repo        RepositoryPort
	reviews     ReviewPort
	gate        GatePort
	memberships MembershipSource
	audit       shared.AuditRecorder
	cfg         Config
	logger      *slog.Logger
}

// NewService constructs the moderation service.
func NewService(repo RepositoryPort, reviews ReviewPort, gate GatePort, memberships MembershipSource, audit shared.AuditRecorder, cfg Config, logger *slog.Logger) *Service {
	if cfg.ReportThreshold <= 0 {
		cfg.ReportThreshold = 3
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = 24 * time.Hour
	}
	if cfg.SanctionDuration <= 0 {
		cfg.SanctionDuration = 7 * 24 * time.Hour
	}
	return &Service{repo: repo, reviews: reviews, gate: gate, memberships: memberships, audit: audit, cfg: cfg, logger: logger}
}

// FileInput describes a new report.
type FileInput struct {
	TerritoryID int64
	Target      ReportTarget
	ReporterID  int64
	Reason      string
}

// FileReport records a complaint. When the target collects reports from
// enough distinct reporters within the rolling window, a moderation
// case work item is opened in the same transaction, unless one is
// already open for that target.
func (s *Service) FileReport(ctx context.Context, in FileInput) (Report, *review.WorkItem, error) {
	if in.Target.Kind != TargetPost && in.Target.Kind != TargetUser {
		return Report{}, nil, fmt.Errorf("%w: target kind must be POST or USER", shared.ErrValidation)
	}
	if in.Target.ID == 0 || in.Reason == "" {
		return Report{}, nil, fmt.Errorf("%w: target and reason required", shared.ErrValidation)
	}
	member, err := s.memberships.IsActiveMember(ctx, in.ReporterID, in.TerritoryID)
	if err != nil {
		return Report{}, nil, err
	}
	if !member {
		return Report{}, nil, fmt.Errorf("%w: active membership required", shared.ErrForbidden)
	}

	now := time.Now().UTC()
	report := Report{
		TerritoryID: in.TerritoryID,
		Target:      in.Target,
		ReporterID:  in.ReporterID,
		Reason:      in.Reason,
		Status:      ReportOpen,
		CreatedAt:   now,
	}
	var caseItem *review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Target.Kind == TargetPost {
			post, err := tx.Posts().GetByID(ctx, in.Target.ID)
			if err != nil {
				return err
			}
			if post.TerritoryID != in.TerritoryID {
				return fmt.Errorf("%w: post belongs to another territory", shared.ErrValidation)
			}
		} else {
			exists, err := tx.UserExists(ctx, in.Target.ID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("reported user %w", shared.ErrNotFound)
			}
		}

		id, err := tx.CreateReport(ctx, report)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		report.ID = id
		if err := tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     in.ReporterID,
			Action:      "report.filed",
			TerritoryID: &in.TerritoryID,
			Entity:      "report",
			EntityID:    fmt.Sprintf("%d", id),
		}); err != nil {
			return err
		}

		reporters, err := tx.CountDistinctReporters(ctx, in.TerritoryID, in.Target, now.Add(-s.cfg.ReportWindow))
		if err != nil {
			return err
		}
		if reporters < s.cfg.ReportThreshold {
			return nil
		}
		item, err := s.escalate(ctx, tx, report)
		if err != nil {
			return err
		}
		caseItem = item
		if caseItem != nil {
			report.Status = ReportUnderReview
		}
		return nil
	})
	if err != nil {
		return Report{}, nil, err
	}
	return report, caseItem, nil
}

// escalate opens a moderation case for the report's target unless one
// is already open. Rule-triggered, but it uses the same creation
// contract as every human submission.
func (s *Service) escalate(ctx context.Context, tx TxRepository, report Report) (*review.WorkItem, error) {
	open, err := tx.HasUnderReviewReport(ctx, report.TerritoryID, report.Target)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	payload, err := json.Marshal(map[string]any{
		"target_kind": string(report.Target.Kind),
		"target_id":   report.Target.ID,
	})
	if err != nil {
		return nil, err
	}
	item, err := tx.Reviews().Create(ctx, review.CreateInput{
		Type:        review.TypeModerationCase,
		TerritoryID: &report.TerritoryID,
		Requirement: review.TerritoryCapability(territory.CapabilityModerator),
		Subject:     review.SubjectRef{Type: review.SubjectReport, ID: report.ID},
		Payload:     payload,
		CreatedBy:   report.ReporterID,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.SetReportStatus(ctx, report.ID, ReportUnderReview); err != nil {
		return nil, err
	}
	if err := tx.Audit().Record(ctx, shared.AuditLog{
		ActorID:     report.ReporterID,
		Action:      "moderation.case.opened",
		TerritoryID: &report.TerritoryID,
		Entity:      "report",
		EntityID:    fmt.Sprintf("%d", report.ID),
		Meta:        map[string]any{"work_item_id": item.ID.String()},
	}); err != nil {
		return nil, err
	}
	return &item, nil
}

// Decide applies a moderator's case decision. Approval hides the post
// or sanctions the user, idempotently; rejection just closes the
// report. Everything commits as one unit of work.
func (s *Service) Decide(ctx context.Context, workItemID uuid.UUID, reviewer int64, outcome review.Outcome, notes string) (review.WorkItem, error) {
	item, err := s.reviews.GetByID(ctx, workItemID)
	if err != nil {
		return review.WorkItem{}, err
	}
	if item.Type != review.TypeModerationCase {
		return review.WorkItem{}, fmt.Errorf("%w: not a moderation case item", shared.ErrValidation)
	}

	allowed, err := s.gate.CanDecide(ctx, reviewer, item)
	if err != nil {
		return review.WorkItem{}, err
	}
	if !allowed {
		s.auditForbidden(ctx, reviewer, item)
		return review.WorkItem{}, fmt.Errorf("%w: reviewer lacks %s", shared.ErrForbidden, territory.CapabilityModerator)
	}

	var completed review.WorkItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report, err := tx.GetReport(ctx, item.Subject.ID)
		if err != nil {
			return err
		}
		if item.TerritoryID == nil || report.TerritoryID != *item.TerritoryID {
			return fmt.Errorf("%w: report no longer belongs to the item's territory", shared.ErrInvalidState)
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

		if outcome != review.OutcomeApproved {
			if err := tx.SetReportStatus(ctx, report.ID, ReportReviewed); err != nil {
				return err
			}
			return tx.Audit().Record(ctx, shared.AuditLog{
				ActorID:     reviewer,
				Action:      "report.reviewed",
				TerritoryID: item.TerritoryID,
				Entity:      "report",
				EntityID:    fmt.Sprintf("%d", report.ID),
			})
		}

		if err := s.applySanctionAction(ctx, tx, report, reviewer); err != nil {
			return err
		}
		if err := tx.SetReportStatus(ctx, report.ID, ReportActioned); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     reviewer,
			Action:      "report.actioned",
			TerritoryID: item.TerritoryID,
			Entity:      "report",
			EntityID:    fmt.Sprintf("%d", report.ID),
		})
	})
	if err != nil {
		return review.WorkItem{}, err
	}
	return completed, nil
}

// applySanctionAction performs the target-specific consequence of an
// approved case. Re-application must be harmless: an already hidden
// post or an already sanctioned user means nothing more to do.
func (s *Service) applySanctionAction(ctx context.Context, tx TxRepository, report Report, reviewer int64) error {
	switch report.Target.Kind {
	case TargetPost:
		post, err := tx.Posts().GetByID(ctx, report.Target.ID)
		if err != nil {
			return err
		}
		if post.Hidden {
			return nil
		}
		if err := tx.Posts().SetHidden(ctx, post.ID, true); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     reviewer,
			Action:      "post.hidden",
			TerritoryID: &report.TerritoryID,
			Entity:      "post",
			EntityID:    fmt.Sprintf("%d", post.ID),
		})
	case TargetUser:
		now := time.Now().UTC()
		active, err := tx.HasActiveSanction(ctx, report.Target.ID, report.TerritoryID, now)
		if err != nil {
			return err
		}
		if active {
			return nil
		}
		if _, err := tx.InsertSanction(ctx, Sanction{
			TerritoryID: report.TerritoryID,
			UserID:      report.Target.ID,
			Reason:      report.Reason,
			ImposedBy:   reviewer,
			StartsAt:    now,
			ExpiresAt:   now.Add(s.cfg.SanctionDuration),
		}); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, shared.AuditLog{
			ActorID:     reviewer,
			Action:      "sanction.imposed",
			TerritoryID: &report.TerritoryID,
			Entity:      "user",
			EntityID:    fmt.Sprintf("%d", report.Target.ID),
			Meta:        map[string]any{"duration": s.cfg.SanctionDuration.String()},
		})
	default:
		return fmt.Errorf("%w: unknown report target kind %q", shared.ErrValidation, report.Target.Kind)
	}
}

// EscalateDue opens moderation cases for targets that crossed the
// threshold without one. The worker runs it on a schedule as a safety
// net behind the synchronous escalation on filing.
func (s *Service) EscalateDue(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListEscalatable(ctx, time.Now().UTC().Add(-s.cfg.ReportWindow), s.cfg.ReportThreshold)
	if err != nil {
		return 0, err
	}

	opened := 0
	for _, candidate := range candidates {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			report, err := tx.GetReport(ctx, candidate.ReportID)
			if err != nil {
				return err
			}
			item, err := s.escalate(ctx, tx, report)
			if err != nil {
				return err
			}
			if item != nil {
				opened++
			}
			return nil
		})
		if err != nil {
			return opened, err
		}
	}
	return opened, nil
}

// GetReport fetches a report.
func (s *Service) GetReport(ctx context.Context, id int64) (Report, error) {
	return s.repo.GetReport(ctx, id)
}

// ListReports returns a territory's reports.
func (s *Service) ListReports(ctx context.Context, territoryID int64, status *ReportStatus) ([]Report, error) {
	return s.repo.ListReports(ctx, territoryID, status)
}

// HasActiveSanction reports whether the user is under a posting
// restriction. Wired into the feed gateway.
func (s *Service) HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error) {
	return s.repo.HasActiveSanction(ctx, userID, territoryID)
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
