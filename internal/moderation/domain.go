package moderation

import "time"

// TargetKind says what a report points at.
type TargetKind string

const (
	TargetPost TargetKind = "POST"
	TargetUser TargetKind = "USER"
)

// ReportTarget identifies the reported entity inside a territory.
type ReportTarget struct {
	Kind TargetKind
	ID   int64
}

// ReportStatus is the report lifecycle. OPEN reports count toward the
// escalation threshold; UNDER_REVIEW means a moderation case is open.
type ReportStatus string

const (
	ReportOpen        ReportStatus = "OPEN"
	ReportUnderReview ReportStatus = "UNDER_REVIEW"
	ReportActioned    ReportStatus = "ACTIONED"
	ReportReviewed    ReportStatus = "REVIEWED"
)

// Report is a member's complaint about a post or a user.
type Report struct {
	ID          int64
	TerritoryID int64
	Target      ReportTarget
	ReporterID  int64
	Reason      string
	Status      ReportStatus
	CreatedAt   time.Time
}

// Sanction is a time-boxed posting restriction imposed by an approved
// moderation case.
type Sanction struct {
	ID          int64
	TerritoryID int64
	UserID      int64
	Reason      string
	ImposedBy   int64
	StartsAt    time.Time
	ExpiresAt   time.Time
}

// ActiveAt reports whether the sanction is in force at the given time.
func (s Sanction) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.ExpiresAt)
}

// EscalationCandidate is a report target whose distinct-reporter count
// crossed the threshold without an open moderation case.
type EscalationCandidate struct {
	TerritoryID int64
	Target      ReportTarget
	ReportID    int64
}
