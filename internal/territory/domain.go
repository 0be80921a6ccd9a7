package territory

import "time"

// Capability tags granted on memberships.
const (
	CapabilityCurator   = "territory.curator"
	CapabilityModerator = "territory.moderator"
)

// Territory is a community space. Feeds, assets and moderation are all
// scoped to one.
type Territory struct {
	ID          int64
	Name        string
	Handle      string
	Description string
	CreatedBy   int64
	CreatedAt   time.Time
}

// MembershipRole distinguishes visitors from residents. Only residents
// may submit residency evidence.
type MembershipRole string

const (
	RoleVisitor  MembershipRole = "VISITOR"
	RoleResident MembershipRole = "RESIDENT"
)

// MembershipStatus tracks whether the user is still in the territory.
type MembershipStatus string

const (
	MembershipActive MembershipStatus = "ACTIVE"
	MembershipLeft   MembershipStatus = "LEFT"
)

// Membership ties a user to a territory with a role. The residency
// timestamp is additive evidence recorded by a review decision, not a
// role change.
type Membership struct {
	ID                  int64
	TerritoryID         int64
	UserID              int64
	Role                MembershipRole
	Status              MembershipStatus
	JoinedAt            time.Time
	LeftAt              *time.Time
	ResidencyVerifiedAt *time.Time
}

// Active reports whether the membership is current.
func (m Membership) Active() bool {
	return m.Status == MembershipActive
}

// CapabilityGrant attaches a capability to a membership. Revoked grants
// no longer count; revocation also invalidates the authorization cache.
type CapabilityGrant struct {
	ID           int64
	MembershipID int64
	Capability   string
	GrantedBy    int64
	GrantedAt    time.Time
	RevokedAt    *time.Time
}

// Active reports whether the grant is still in force.
func (g CapabilityGrant) Active() bool {
	return g.RevokedAt == nil
}
