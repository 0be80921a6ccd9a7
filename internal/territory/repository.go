package territory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// TxRepository exposes the operations available inside a territory
// transaction; Reviews and Audit share it.
type TxRepository interface {
	GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error)
	GetMembershipByID(ctx context.Context, id int64) (Membership, error)
	CreateTerritory(ctx context.Context, t Territory) (int64, error)
	CreateMembership(ctx context.Context, m Membership) (int64, error)
	ReactivateMembership(ctx context.Context, id int64, role MembershipRole) error
	CloseMembership(ctx context.Context, id int64, at time.Time) error
	SetResidencyVerified(ctx context.Context, membershipID int64, at time.Time) error
	InsertCapability(ctx context.Context, grant CapabilityGrant) (int64, error)
	RevokeCapability(ctx context.Context, membershipID int64, capability string, at time.Time) (bool, error)
	Reviews() *review.Engine
	Audit() shared.AuditRecorder
}

// Repository provides PostgreSQL backed persistence for territories,
// memberships and capability grants.
type Repository struct {
	pool   *pgxpool.Pool
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, audit: audit, logger: logger}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	txAudit := r.audit.WithTx(tx)
	wrapper := &txRepo{
		db:      tx,
		reviews: review.NewEngine(review.NewStore(tx), txAudit, r.logger),
		audit:   txAudit,
	}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const territoryColumns = `id, name, handle, description, created_by, created_at`

// GetTerritory fetches a territory by id.
func (r *Repository) GetTerritory(ctx context.Context, id int64) (Territory, error) {
	return scanTerritory(r.pool.QueryRow(ctx, `SELECT `+territoryColumns+` FROM territories WHERE id = $1`, id))
}

// GetTerritoryByHandle fetches a territory by its normalized handle.
func (r *Repository) GetTerritoryByHandle(ctx context.Context, handle string) (Territory, error) {
	return scanTerritory(r.pool.QueryRow(ctx, `SELECT `+territoryColumns+` FROM territories WHERE handle = $1`, handle))
}

// ListTerritories returns all territories, newest first.
func (r *Repository) ListTerritories(ctx context.Context) ([]Territory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+territoryColumns+` FROM territories ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Territory
	for rows.Next() {
		t, err := scanTerritory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const membershipColumns = `id, territory_id, user_id, role, status, joined_at, left_at, residency_verified_at`

// GetMembership fetches the membership of a user in a territory.
func (r *Repository) GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error) {
	return scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE territory_id = $1 AND user_id = $2`,
		territoryID, userID))
}

// ListMemberships returns a user's memberships.
func (r *Repository) ListMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY joined_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasCapability reports whether the user's active membership in the
// territory carries an unrevoked grant of the capability. This is the
// gate's source of truth for territory-scoped requirements.
func (r *Repository) HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(
SELECT 1 FROM capability_grants g
JOIN memberships m ON m.id = g.membership_id
WHERE m.user_id = $1 AND m.territory_id = $2 AND m.status = $3
  AND g.capability = $4 AND g.revoked_at IS NULL)`,
		userID, territoryID, string(MembershipActive), capability).Scan(&exists)
	return exists, err
}

type txRepo struct {
	db      pgx.Tx
	reviews *review.Engine
	audit   shared.AuditRecorder
}

func (t *txRepo) GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error) {
	return scanMembership(t.db.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE territory_id = $1 AND user_id = $2 FOR UPDATE`,
		territoryID, userID))
}

func (t *txRepo) GetMembershipByID(ctx context.Context, id int64) (Membership, error) {
	return scanMembership(t.db.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) CreateTerritory(ctx context.Context, territory Territory) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO territories
(name, handle, description, created_by, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		territory.Name, territory.Handle, territory.Description, territory.CreatedBy, territory.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) CreateMembership(ctx context.Context, m Membership) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO memberships
(territory_id, user_id, role, status, joined_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.TerritoryID, m.UserID, string(m.Role), string(m.Status), m.JoinedAt).Scan(&id)
	return id, err
}

func (t *txRepo) ReactivateMembership(ctx context.Context, id int64, role MembershipRole) error {
	tag, err := t.db.Exec(ctx, `UPDATE memberships SET status = $1, role = $2, left_at = NULL WHERE id = $3`,
		string(MembershipActive), string(role), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) CloseMembership(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.db.Exec(ctx, `UPDATE memberships SET status = $1, left_at = $2 WHERE id = $3`,
		string(MembershipLeft), at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) SetResidencyVerified(ctx context.Context, membershipID int64, at time.Time) error {
	tag, err := t.db.Exec(ctx, `UPDATE memberships SET residency_verified_at = $1 WHERE id = $2`, at, membershipID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertCapability(ctx context.Context, grant CapabilityGrant) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO capability_grants
(membership_id, capability, granted_by, granted_at)
VALUES ($1, $2, $3, $4) RETURNING id`,
		grant.MembershipID, grant.Capability, grant.GrantedBy, grant.GrantedAt).Scan(&id)
	return id, err
}

func (t *txRepo) RevokeCapability(ctx context.Context, membershipID int64, capability string, at time.Time) (bool, error) {
	tag, err := t.db.Exec(ctx, `UPDATE capability_grants
SET revoked_at = $1 WHERE membership_id = $2 AND capability = $3 AND revoked_at IS NULL`,
		at, membershipID, capability)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) Reviews() *review.Engine {
	return t.reviews
}

func (t *txRepo) Audit() shared.AuditRecorder {
	return t.audit
}

func scanTerritory(row pgx.Row) (Territory, error) {
	var t Territory
	err := row.Scan(&t.ID, &t.Name, &t.Handle, &t.Description, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Territory{}, shared.ErrNotFound
		}
		return Territory{}, err
	}
	return t, nil
}

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	var role, status string
	var leftAt, verifiedAt pgtype.Timestamptz
	err := row.Scan(&m.ID, &m.TerritoryID, &m.UserID, &role, &status, &m.JoinedAt, &leftAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, shared.ErrNotFound
		}
		return Membership{}, err
	}
	m.Role = MembershipRole(role)
	m.Status = MembershipStatus(status)
	if leftAt.Valid {
		m.LeftAt = &leftAt.Time
	}
	if verifiedAt.Valid {
		m.ResidencyVerifiedAt = &verifiedAt.Time
	}
	return m, nil
}
