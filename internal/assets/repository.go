package assets

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

// TxRepository exposes the operations available inside a curation
// transaction; Reviews and Audit share it.
type TxRepository interface {
	GetAsset(ctx context.Context, id int64) (Asset, error)
	CreateAsset(ctx context.Context, asset Asset) (int64, error)
	SetCuration(ctx context.Context, id int64, status AssetStatus, curatedBy int64, at time.Time, notes *string) error
	Reviews() *review.Engine
	Audit() shared.AuditRecorder
}

// Repository provides PostgreSQL backed persistence for assets.
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

const assetColumns = `id, territory_id, name, description, suggested_by, status, curated_by, curated_at, curation_notes, created_at`

// GetAsset fetches an asset by id.
func (r *Repository) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
}

// ListByTerritory returns a territory's assets, optionally filtered by
// status, newest first.
func (r *Repository) ListByTerritory(ctx context.Context, territoryID int64, status *AssetStatus) ([]Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE territory_id = $1`
	args := []any{territoryID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

type txRepo struct {
	db      pgx.Tx
	reviews *review.Engine
	audit   shared.AuditRecorder
}

func (t *txRepo) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(t.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) CreateAsset(ctx context.Context, asset Asset) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO assets
(territory_id, name, description, suggested_by, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		asset.TerritoryID, asset.Name, asset.Description, asset.SuggestedBy, string(asset.Status), asset.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetCuration(ctx context.Context, id int64, status AssetStatus, curatedBy int64, at time.Time, notes *string) error {
	tag, err := t.db.Exec(ctx, `UPDATE assets
SET status = $1, curated_by = $2, curated_at = $3, curation_notes = $4 WHERE id = $5`,
		string(status), curatedBy, at, notes, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Reviews() *review.Engine {
	return t.reviews
}

func (t *txRepo) Audit() shared.AuditRecorder {
	return t.audit
}

func scanAsset(row pgx.Row) (Asset, error) {
	var asset Asset
	var status string
	var curatedBy pgtype.Int8
	var curatedAt pgtype.Timestamptz
	var notes pgtype.Text
	err := row.Scan(&asset.ID, &asset.TerritoryID, &asset.Name, &asset.Description, &asset.SuggestedBy,
		&status, &curatedBy, &curatedAt, &notes, &asset.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, shared.ErrNotFound
		}
		return Asset{}, err
	}
	asset.Status = AssetStatus(status)
	if curatedBy.Valid {
		asset.CuratedBy = &curatedBy.Int64
	}
	if curatedAt.Valid {
		asset.CuratedAt = &curatedAt.Time
	}
	if notes.Valid {
		asset.CurationNotes = &notes.String
	}
	return asset, nil
}
