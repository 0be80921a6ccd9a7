package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the store can be
// bound either to the shared pool or to a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueueFilter narrows List results.
type QueueFilter struct {
	Status      *WorkItemStatus
	Type        *WorkItemType
	TerritoryID *int64
	Limit       int
	Offset      int
}

// Store persists work items.
type Store interface {
	Insert(ctx context.Context, item WorkItem) error
	GetByID(ctx context.Context, id uuid.UUID) (WorkItem, error)
	LatestOpenBySubject(ctx context.Context, itemType WorkItemType, subject SubjectRef) (*WorkItem, error)
	List(ctx context.Context, filter QueueFilter) ([]WorkItem, int, error)
	// MarkCompleted flips the item to COMPLETED iff it still requires
	// human review. Returns false when the guard matched no row, which
	// means a concurrent decision won the race.
	MarkCompleted(ctx context.Context, id uuid.UUID, outcome Outcome, completedBy int64, notes *string, at time.Time) (bool, error)
	CountOpenByType(ctx context.Context) (map[WorkItemType]int, error)
}

type store struct {
	db DBTX
}

// NewStore constructs a work item store over the given pool or transaction.
func NewStore(db DBTX) Store {
	return &store{db: db}
}

const workItemColumns = `id, type, status, territory_id, required_system_permission, required_capability,
subject_type, subject_id, payload_json, created_by, created_at, outcome, completed_at, completed_by, completion_notes`

func (s *store) Insert(ctx context.Context, item WorkItem) error {
	var permission, capability *string
	switch item.Requirement.Kind {
	case RequireSystemPermission:
		permission = &item.Requirement.Tag
	case RequireTerritoryCapability:
		capability = &item.Requirement.Tag
	default:
		return ErrValidation
	}
	_, err := s.db.Exec(ctx, `INSERT INTO work_items
(id, type, status, territory_id, required_system_permission, required_capability, subject_type, subject_id, payload_json, created_by, created_at, outcome)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, string(item.Type), string(item.Status), item.TerritoryID, permission, capability,
		item.Subject.Type, item.Subject.ID, item.Payload, item.CreatedBy, item.CreatedAt, string(item.Outcome))
	return err
}

func (s *store) GetByID(ctx context.Context, id uuid.UUID) (WorkItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		return WorkItem{}, err
	}
	return item, nil
}

func (s *store) LatestOpenBySubject(ctx context.Context, itemType WorkItemType, subject SubjectRef) (*WorkItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items
WHERE type = $1 AND subject_type = $2 AND subject_id = $3 AND status = $4
ORDER BY created_at DESC LIMIT 1`,
		string(itemType), subject.Type, subject.ID, string(StatusRequiresHumanReview))
	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *store) List(ctx context.Context, filter QueueFilter) ([]WorkItem, int, error) {
	conditions := []string{"1=1"}
	args := []any{}
	argPos := 0

	if filter.Status != nil {
		argPos++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*filter.Status))
	}
	if filter.Type != nil {
		argPos++
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, string(*filter.Type))
	}
	if filter.TerritoryID != nil {
		argPos++
		conditions = append(conditions, fmt.Sprintf("territory_id = $%d", argPos))
		args = append(args, *filter.TerritoryID)
	}

	whereClause := conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM work_items WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM work_items WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		workItemColumns, whereClause, argPos+1, argPos+2)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (s *store) MarkCompleted(ctx context.Context, id uuid.UUID, outcome Outcome, completedBy int64, notes *string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE work_items
SET status = $1, outcome = $2, completed_at = $3, completed_by = $4, completion_notes = $5
WHERE id = $6 AND status = $7`,
		string(StatusCompleted), string(outcome), at, completedBy, notes,
		id, string(StatusRequiresHumanReview))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *store) CountOpenByType(ctx context.Context) (map[WorkItemType]int, error) {
	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*) FROM work_items WHERE status = $1 GROUP BY type`,
		string(StatusRequiresHumanReview))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[WorkItemType]int)
	for rows.Next() {
		var itemType string
		var count int
		if err := rows.Scan(&itemType, &count); err != nil {
			return nil, err
		}
		counts[WorkItemType(itemType)] = count
	}
	return counts, rows.Err()
}

func scanWorkItem(row pgx.Row) (WorkItem, error) {
	var item WorkItem
	var itemType, status, outcome, subjectType string
	var territoryID pgtype.Int8
	var permission, capability, notes pgtype.Text
	var completedAt pgtype.Timestamptz
	var completedBy pgtype.Int8

	err := row.Scan(&item.ID, &itemType, &status, &territoryID, &permission, &capability,
		&subjectType, &item.Subject.ID, &item.Payload, &item.CreatedBy, &item.CreatedAt,
		&outcome, &completedAt, &completedBy, &notes)
	if err != nil {
		return WorkItem{}, err
	}

	item.Type = WorkItemType(itemType)
	item.Status = WorkItemStatus(status)
	item.Outcome = Outcome(outcome)
	item.Subject.Type = subjectType
	if territoryID.Valid {
		item.TerritoryID = &territoryID.Int64
	}
	switch {
	case permission.Valid:
		item.Requirement = SystemPermission(permission.String)
	case capability.Valid:
		item.Requirement = TerritoryCapability(capability.String)
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	if completedBy.Valid {
		item.CompletedBy = &completedBy.Int64
	}
	if notes.Valid {
		item.CompletionNotes = &notes.String
	}
	return item, nil
}
