package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID     int64
	Action      string
	TerritoryID *int64
	Entity      string
	EntityID    string
	Meta        map[string]any
	At          time.Time
}

// AuditRecorder is the append-only sink consumed by services.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// DBExecutor is satisfied by *pgxpool.Pool and pgx.Tx.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db DBExecutor
}

// NewAuditLogger returns a new AuditLogger bound to the pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{db: pool}
}

// WithTx returns a copy of the logger whose writes join the transaction,
// so audit entries commit or roll back with the operation they describe.
func (l *AuditLogger) WithTx(tx pgx.Tx) *AuditLogger {
	return &AuditLogger{db: tx}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, territory_id, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, log.ActorID, log.Action, log.TerritoryID, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}

var _ AuditRecorder = (*AuditLogger)(nil)
