package identity

import "time"

// IdentityStatus tracks a user's identity verification lifecycle.
type IdentityStatus string

const (
	IdentityNone     IdentityStatus = "NONE"
	IdentityPending  IdentityStatus = "PENDING"
	IdentityVerified IdentityStatus = "VERIFIED"
	IdentityRejected IdentityStatus = "REJECTED"
)

// PermissionReviewIdentity gates identity verification decisions.
const PermissionReviewIdentity = "platform.review.identity"

// PermissionAdmin gates grant/revoke of system permissions.
const PermissionAdmin = "platform.admin"

// User is a platform account. The user record is the source of truth
// for its own identity status; review work items only reference it.
type User struct {
	ID                 int64
	Email              string
	DisplayName        string
	PasswordHash       string
	IsActive           bool
	IdentityStatus     IdentityStatus
	IdentityVerifiedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PermissionGrant is a global (non-territory) permission held by a user.
// A grant with RevokedAt set no longer counts.
type PermissionGrant struct {
	ID         int64
	UserID     int64
	Permission string
	GrantedBy  int64
	GrantedAt  time.Time
	RevokedAt  *time.Time
}

// Active reports whether the grant is still in force.
func (g PermissionGrant) Active() bool {
	return g.RevokedAt == nil
}
