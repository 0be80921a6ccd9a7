// Package review implements the work item queue that routes decisions
// requiring human judgment to authorized reviewers.
package review

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// WorkItemType selects the decision handler that will consume the outcome.
type WorkItemType string

const (
	TypeIdentityVerification  WorkItemType = "IDENTITY_VERIFICATION"
	TypeResidencyVerification WorkItemType = "RESIDENCY_VERIFICATION"
	TypeAssetCuration         WorkItemType = "ASSET_CURATION"
	TypeModerationCase        WorkItemType = "MODERATION_CASE"
)

// Valid reports whether the type names a known decision handler.
func (t WorkItemType) Valid() bool {
	switch t {
	case TypeIdentityVerification, TypeResidencyVerification, TypeAssetCuration, TypeModerationCase:
		return true
	}
	return false
}

// WorkItemStatus is the queue lifecycle state.
type WorkItemStatus string

const (
	StatusRequiresHumanReview WorkItemStatus = "REQUIRES_HUMAN_REVIEW"
	StatusCompleted           WorkItemStatus = "COMPLETED"
)

// Valid reports whether the status is a known lifecycle state.
func (s WorkItemStatus) Valid() bool {
	return s == StatusRequiresHumanReview || s == StatusCompleted
}

// Outcome is the human decision recorded on completion.
type Outcome string

const (
	OutcomeNone     Outcome = "NONE"
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// RequirementKind discriminates the two authorization schemes.
type RequirementKind string

const (
	RequireSystemPermission    RequirementKind = "SYSTEM_PERMISSION"
	RequireTerritoryCapability RequirementKind = "TERRITORY_CAPABILITY"
)

// Requirement states who may decide a work item: a global system
// permission or a territory-scoped capability, never both.
type Requirement struct {
	Kind RequirementKind
	Tag  string
}

// SystemPermission builds a global permission requirement.
func SystemPermission(tag string) Requirement {
	return Requirement{Kind: RequireSystemPermission, Tag: tag}
}

// TerritoryCapability builds a territory-scoped capability requirement.
func TerritoryCapability(tag string) Requirement {
	return Requirement{Kind: RequireTerritoryCapability, Tag: tag}
}

// Valid reports whether exactly one scheme is set.
func (r Requirement) Valid() bool {
	if r.Tag == "" {
		return false
	}
	return r.Kind == RequireSystemPermission || r.Kind == RequireTerritoryCapability
}

// SubjectRef points at the entity the decision will affect. The queue
// never interprets it; only decision handlers do.
type SubjectRef struct {
	Type string
	ID   int64
}

// Subject type tags used by the decision handlers.
const (
	SubjectUser       = "USER"
	SubjectMembership = "MEMBERSHIP"
	SubjectAsset      = "ASSET"
	SubjectReport     = "REPORT"
)

// WorkItem is a queued unit of review.
type WorkItem struct {
	ID              uuid.UUID
	Type            WorkItemType
	Status          WorkItemStatus
	TerritoryID     *int64
	Requirement     Requirement
	Subject         SubjectRef
	Payload         []byte
	CreatedBy       int64
	CreatedAt       time.Time
	Outcome         Outcome
	CompletedAt     *time.Time
	CompletedBy     *int64
	CompletionNotes *string
}

// Open reports whether the item still awaits a decision.
func (w WorkItem) Open() bool {
	return w.Status == StatusRequiresHumanReview
}

var (
	// ErrNotFound indicates the work item does not exist.
	ErrNotFound = fmt.Errorf("review: work item %w", shared.ErrNotFound)
	// ErrInvalidState guards against deciding an already completed item.
	ErrInvalidState = fmt.Errorf("review: %w", shared.ErrInvalidState)
	// ErrValidation indicates malformed creation or completion input.
	ErrValidation = fmt.Errorf("review: %w", shared.ErrValidation)
	// ErrForbidden indicates the authorization gate denied the actor.
	ErrForbidden = fmt.Errorf("review: %w", shared.ErrForbidden)
)
