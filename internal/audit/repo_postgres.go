package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepo appends to dispatch_audit_events.
type PostgresRepo struct {
	db Execer
}

func NewPostgresRepo(db Execer) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO dispatch_audit_events (id, type, agent_id, conversation_id, call_sid, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.Exec(ctx, q,
		e.ID,
		string(e.Type),
		nullIfEmpty(e.AgentID),
		nullIfEmpty(e.ConversationID),
		nullIfEmpty(e.CallSID),
		nullIfEmpty(e.Message),
		nullIfEmpty(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
