package moderation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sraphaz/araponga-sub002/internal/feed"
	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// TxRepository exposes the operations available inside a moderation
// transaction. Posts, Reviews and Audit are bound to the same
// transaction, so hiding a post and completing the case commit
// together.
type TxRepository interface {
	GetReport(ctx context.Context, id int64) (Report, error)
	CreateReport(ctx context.Context, report Report) (int64, error)
	SetReportStatus(ctx context.Context, id int64, status ReportStatus) error
	CountDistinctReporters(ctx context.Context, territoryID int64, target ReportTarget, since time.Time) (int, error)
	HasUnderReviewReport(ctx context.Context, territoryID int64, target ReportTarget) (bool, error)
	InsertSanction(ctx context.Context, sanction Sanction) (int64, error)
	HasActiveSanction(ctx context.Context, userID, territoryID int64, at time.Time) (bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	Posts() feed.Store
	Reviews() *review.Engine
	Audit() shared.AuditRecorder
}

// Repository provides PostgreSQL backed persistence for reports and
// sanctions.
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
		posts:   feed.NewStore(tx),
		reviews: review.NewEngine(review.NewStore(tx), txAudit, r.logger),
		audit:   txAudit,
	}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const reportColumns = `id, territory_id, target_kind, target_id, reporter_id, reason, status, created_at`

// GetReport fetches a report by id.
func (r *Repository) GetReport(ctx context.Context, id int64) (Report, error) {
	return scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
}

// ListReports returns a territory's reports, optionally by status.
func (r *Repository) ListReports(ctx context.Context, territoryID int64, status *ReportStatus) ([]Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE territory_id = $1`
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

	var out []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// HasActiveSanction reports whether the user is under a posting
// restriction in the territory right now.
func (r *Repository) HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(
SELECT 1 FROM sanctions WHERE user_id = $1 AND territory_id = $2 AND starts_at <= $3 AND expires_at > $3)`,
		userID, territoryID, time.Now().UTC()).Scan(&exists)
	return exists, err
}

// ListEscalatable finds report targets whose distinct-reporter count
// within the window crossed the threshold and that have no moderation
// case open yet. Safety net behind the synchronous escalation on
// filing.
func (r *Repository) ListEscalatable(ctx context.Context, since time.Time, threshold int) ([]EscalationCandidate, error) {
	rows, err := r.pool.Query(ctx, `WITH candidates AS (
SELECT territory_id, target_kind, target_id, MAX(id) AS report_id
FROM reports
WHERE created_at >= $1 AND status = $2
GROUP BY territory_id, target_kind, target_id
HAVING COUNT(DISTINCT reporter_id) >= $3)
SELECT c.territory_id, c.target_kind, c.target_id, c.report_id FROM candidates c
WHERE NOT EXISTS (
SELECT 1 FROM reports r
WHERE r.territory_id = c.territory_id AND r.target_kind = c.target_kind
  AND r.target_id = c.target_id AND r.status = $4)`,
		since, string(ReportOpen), threshold, string(ReportUnderReview))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EscalationCandidate
	for rows.Next() {
		var c EscalationCandidate
		var kind string
		if err := rows.Scan(&c.TerritoryID, &kind, &c.Target.ID, &c.ReportID); err != nil {
			return nil, err
		}
		c.Target.Kind = TargetKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

type txRepo struct {
	db      pgx.Tx
	posts   feed.Store
	reviews *review.Engine
	audit   shared.AuditRecorder
}

func (t *txRepo) GetReport(ctx context.Context, id int64) (Report, error) {
	return scanReport(t.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) CreateReport(ctx context.Context, report Report) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO reports
(territory_id, target_kind, target_id, reporter_id, reason, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		report.TerritoryID, string(report.Target.Kind), report.Target.ID,
		report.ReporterID, report.Reason, string(report.Status), report.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetReportStatus(ctx context.Context, id int64, status ReportStatus) error {
	tag, err := t.db.Exec(ctx, `UPDATE reports SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) CountDistinctReporters(ctx context.Context, territoryID int64, target ReportTarget, since time.Time) (int, error) {
	var count int
	err := t.db.QueryRow(ctx, `SELECT COUNT(DISTINCT reporter_id) FROM reports
WHERE territory_id = $1 AND target_kind = $2 AND target_id = $3 AND created_at >= $4`,
		territoryID, string(target.Kind), target.ID, since).Scan(&count)
	return count, err
}

func (t *txRepo) HasUnderReviewReport(ctx context.Context, territoryID int64, target ReportTarget) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS(
SELECT 1 FROM reports WHERE territory_id = $1 AND target_kind = $2 AND target_id = $3 AND status = $4)`,
		territoryID, string(target.Kind), target.ID, string(ReportUnderReview)).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertSanction(ctx context.Context, sanction Sanction) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO sanctions
(territory_id, user_id, reason, imposed_by, starts_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sanction.TerritoryID, sanction.UserID, sanction.Reason,
		sanction.ImposedBy, sanction.StartsAt, sanction.ExpiresAt).Scan(&id)
	return id, err
}

func (t *txRepo) HasActiveSanction(ctx context.Context, userID, territoryID int64, at time.Time) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS(
SELECT 1 FROM sanctions WHERE user_id = $1 AND territory_id = $2 AND starts_at <= $3 AND expires_at > $3)`,
		userID, territoryID, at).Scan(&exists)
	return exists, err
}

func (t *txRepo) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

func (t *txRepo) Posts() feed.Store {
	return t.posts
}

func (t *txRepo) Reviews() *review.Engine {
	return t.reviews
}

func (t *txRepo) Audit() shared.AuditRecorder {
	return t.audit
}

func scanReport(row pgx.Row) (Report, error) {
	var report Report
	var kind, status string
	err := row.Scan(&report.ID, &report.TerritoryID, &kind, &report.Target.ID,
		&report.ReporterID, &report.Reason, &status, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, shared.ErrNotFound
		}
		return Report{}, err
	}
	report.Target.Kind = TargetKind(kind)
	report.Status = ReportStatus(status)
	return report, nil
}
