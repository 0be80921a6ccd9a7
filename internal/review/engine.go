package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// Engine creates work items and enforces the single-decision invariant.
// It is deliberately ignorant of subject semantics; decision handlers own
// those. Bind it to a transaction-scoped Store and AuditLogger when the
// call must join a caller's unit of work.
type Engine struct {
	store  Store
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewEngine constructs the engine over the given store and audit sink.
func NewEngine(store Store, audit shared.AuditRecorder, logger *slog.Logger) *Engine {
	return &Engine{store: store, audit: audit, logger: logger}
}

// CreateInput describes a new work item.
type CreateInput struct {
	Type        WorkItemType
	TerritoryID *int64
	Requirement Requirement
	Subject     SubjectRef
	Payload     []byte
	CreatedBy   int64
}

// Create persists a work item in REQUIRES_HUMAN_REVIEW and emits the
// creation audit entry. Domain preconditions are the caller's job; the
// engine only validates its own contract.
func (e *Engine) Create(ctx context.Context, in CreateInput) (WorkItem, error) {
	if in.Type == "" {
		return WorkItem{}, fmt.Errorf("%w: work item type required", ErrValidation)
	}
	if in.Subject.Type == "" || in.Subject.ID == 0 {
		return WorkItem{}, fmt.Errorf("%w: subject reference required", ErrValidation)
	}
	if !in.Requirement.Valid() {
		return WorkItem{}, fmt.Errorf("%w: exactly one of system permission or capability required", ErrValidation)
	}
	if in.Requirement.Kind == RequireTerritoryCapability && in.TerritoryID == nil {
		return WorkItem{}, fmt.Errorf("%w: capability requirement needs a territory", ErrValidation)
	}
	if in.CreatedBy == 0 {
		return WorkItem{}, fmt.Errorf("%w: creator required", ErrValidation)
	}

	item := WorkItem{
		ID:          uuid.New(),
		Type:        in.Type,
		Status:      StatusRequiresHumanReview,
		TerritoryID: in.TerritoryID,
		Requirement: in.Requirement,
		Subject:     in.Subject,
		Payload:     in.Payload,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
		Outcome:     OutcomeNone,
	}
	if err := e.store.Insert(ctx, item); err != nil {
		return WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}
	if err := e.recordAudit(ctx, "work_item.created", item, in.CreatedBy, nil); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// CompleteInput describes a decision on an open work item.
type CompleteInput struct {
	ID       uuid.UUID
	Reviewer int64
	Outcome  Outcome
	Notes    string
}

// Complete flips an open work item to COMPLETED with the given outcome.
// The state-guarded update closes the double-decision race: of two
// concurrent reviewers exactly one wins, the other gets ErrInvalidState.
// Authorization is the caller's responsibility (see Gate).
func (e *Engine) Complete(ctx context.Context, in CompleteInput) (WorkItem, error) {
	if in.Outcome != OutcomeApproved && in.Outcome != OutcomeRejected {
		return WorkItem{}, fmt.Errorf("%w: outcome must be APPROVED or REJECTED", ErrValidation)
	}
	if in.Reviewer == 0 {
		return WorkItem{}, fmt.Errorf("%w: reviewer required", ErrValidation)
	}

	item, err := e.store.GetByID(ctx, in.ID)
	if err != nil {
		return WorkItem{}, err
	}
	if !item.Open() {
		return WorkItem{}, fmt.Errorf("%w: work item already completed", ErrInvalidState)
	}

	now := time.Now().UTC()
	var notes *string
	if in.Notes != "" {
		notes = &in.Notes
	}
	updated, err := e.store.MarkCompleted(ctx, in.ID, in.Outcome, in.Reviewer, notes, now)
	if err != nil {
		return WorkItem{}, fmt.Errorf("complete work item: %w", err)
	}
	if !updated {
		// Lost the race to a concurrent decision.
		return WorkItem{}, fmt.Errorf("%w: work item already completed", ErrInvalidState)
	}

	item.Status = StatusCompleted
	item.Outcome = in.Outcome
	item.CompletedAt = &now
	item.CompletedBy = &in.Reviewer
	item.CompletionNotes = notes

	if err := e.recordAudit(ctx, "work_item.completed", item, in.Reviewer, map[string]any{
		"outcome": string(in.Outcome),
	}); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// GetByID fetches a work item.
func (e *Engine) GetByID(ctx context.Context, id uuid.UUID) (WorkItem, error) {
	return e.store.GetByID(ctx, id)
}

// LatestOpenBySubject locates the pending item for a subject, or nil.
// At most one open item per (type, subject) exists; submission flows
// check this before creating a new one.
func (e *Engine) LatestOpenBySubject(ctx context.Context, itemType WorkItemType, subject SubjectRef) (*WorkItem, error) {
	return e.store.LatestOpenBySubject(ctx, itemType, subject)
}

// ListQueue returns work items matching the filter with a total count.
func (e *Engine) ListQueue(ctx context.Context, filter QueueFilter) ([]WorkItem, int, error) {
	return e.store.List(ctx, filter)
}

func (e *Engine) recordAudit(ctx context.Context, action string, item WorkItem, actorID int64, extra map[string]any) error {
	if e.audit == nil {
		return nil
	}
	meta := map[string]any{
		"type":         string(item.Type),
		"subject_type": item.Subject.Type,
		"subject_id":   item.Subject.ID,
	}
	for k, v := range extra {
		meta[k] = v
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:     actorID,
		Action:      action,
		TerritoryID: item.TerritoryID,
		Entity:      "work_item",
		EntityID:    item.ID.String(),
		Meta:        meta,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
