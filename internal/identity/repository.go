package identity

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

// TxRepository exposes the operations available inside a decision
// transaction. Reviews and Audit are bound to the same transaction, so
// the subject mutation and the work item completion commit together.
type TxRepository interface {
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, user User) (int64, error)
	SetIdentityStatus(ctx context.Context, userID int64, status IdentityStatus, verifiedAt *time.Time) error
	InsertGrant(ctx context.Context, grant PermissionGrant) (int64, error)
	RevokeGrant(ctx context.Context, userID int64, permission string, at time.Time) (bool, error)
	Reviews() *review.Engine
	Audit() shared.AuditRecorder
}

// Repository provides PostgreSQL backed persistence for users and
// their global permission grants.
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

const userColumns = `id, email, display_name, password_hash, is_active, identity_status, identity_verified_at, created_at, updated_at`

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// HasPermission reports whether the user holds an unrevoked grant of
// the given global permission. This is the gate's source of truth.
func (r *Repository) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(
SELECT 1 FROM permission_grants WHERE user_id = $1 AND permission = $2 AND revoked_at IS NULL)`,
		userID, permission).Scan(&exists)
	return exists, err
}

// ListGrants returns all grants for the user, active and revoked.
func (r *Repository) ListGrants(ctx context.Context, userID int64) ([]PermissionGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, permission, granted_by, granted_at, revoked_at
FROM permission_grants WHERE user_id = $1 ORDER BY granted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []PermissionGrant
	for rows.Next() {
		var grant PermissionGrant
		var revokedAt pgtype.Timestamptz
		if err := rows.Scan(&grant.ID, &grant.UserID, &grant.Permission, &grant.GrantedBy, &grant.GrantedAt, &revokedAt); err != nil {
			return nil, err
		}
		if revokedAt.Valid {
			grant.RevokedAt = &revokedAt.Time
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

type txRepo struct {
	db      pgx.Tx
	reviews *review.Engine
	audit   shared.AuditRecorder
}

func (t *txRepo) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(t.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) CreateUser(ctx context.Context, user User) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO users
(email, display_name, password_hash, is_active, identity_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		user.Email, user.DisplayName, user.PasswordHash, user.IsActive, string(user.IdentityStatus), user.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetIdentityStatus(ctx context.Context, userID int64, status IdentityStatus, verifiedAt *time.Time) error {
	tag, err := t.db.Exec(ctx, `UPDATE users
SET identity_status = $1, identity_verified_at = $2, updated_at = $3 WHERE id = $4`,
		string(status), verifiedAt, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertGrant(ctx context.Context, grant PermissionGrant) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO permission_grants
(user_id, permission, granted_by, granted_at)
VALUES ($1, $2, $3, $4) RETURNING id`,
		grant.UserID, grant.Permission, grant.GrantedBy, grant.GrantedAt).Scan(&id)
	return id, err
}

func (t *txRepo) RevokeGrant(ctx context.Context, userID int64, permission string, at time.Time) (bool, error) {
	tag, err := t.db.Exec(ctx, `UPDATE permission_grants
SET revoked_at = $1 WHERE user_id = $2 AND permission = $3 AND revoked_at IS NULL`,
		at, userID, permission)
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

func scanUser(row pgx.Row) (User, error) {
	var user User
	var status string
	var verifiedAt pgtype.Timestamptz
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.IsActive,
		&status, &verifiedAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	user.IdentityStatus = IdentityStatus(status)
	if verifiedAt.Valid {
		user.IdentityVerifiedAt = &verifiedAt.Time
	}
	return user, nil
}
