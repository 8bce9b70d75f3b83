package calls

import (
	"context"
	"errors"

	"callqueue/pkg/utils"

	"github.com/jackc/pgx/v5"
)

// NOTE: This store assumes the conversations and call_legs tables from
// migrations/0001_init.sql.

// PostgresStore is the Store used in production.
type PostgresStore struct {
	db utils.TxBeginner
}

func NewPostgresStore(db utils.TxBeginner) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, p.db, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

const conversationColumns = `id, number, caller_id, state, created_at, updated_at`

const legColumns = `id, conversation_id, role, number, COALESCE(sid, ''), COALESCE(agent_id, ''), state, created_at, updated_at`

func (t pgTx) InsertConversation(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (id, number, caller_id, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := t.tx.Exec(ctx, q, c.ID, c.Number, c.CallerID, string(c.State), c.CreatedAt, c.UpdatedAt)
	return err
}

func (t pgTx) GetConversation(ctx context.Context, id string) (Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConversation(t.tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

func (t pgTx) LockEnqueuedConversation(ctx context.Context, id string) (Conversation, bool, error) {
	// Lock the row so two dispatchers can never claim the same conversation,
	// even if a stale duplicate id slipped into the queue.
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND state = $2 FOR UPDATE`
	c, err := scanConversation(t.tx.QueryRow(ctx, q, id, string(ConversationEnqueued)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return c, true, nil
}

func (t pgTx) UpdateConversation(ctx context.Context, c Conversation) error {
	const q = `UPDATE conversations SET state = $2, updated_at = $3 WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, c.ID, string(c.State), c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t pgTx) InsertLeg(ctx context.Context, l CallLeg) error {
	const q = `
INSERT INTO call_legs (id, conversation_id, role, number, sid, agent_id, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := t.tx.Exec(ctx, q,
		l.ID,
		l.ConversationID,
		string(l.Role),
		l.Number,
		nullIfEmpty(l.SID),
		nullIfEmpty(l.AgentID),
		string(l.State),
		l.CreatedAt,
		l.UpdatedAt,
	)
	return err
}

func (t pgTx) GetLeg(ctx context.Context, id string) (CallLeg, error) {
	return t.oneLeg(ctx, `SELECT `+legColumns+` FROM call_legs WHERE id = $1`, id)
}

func (t pgTx) GetLegBySID(ctx context.Context, sid string) (CallLeg, error) {
	if sid == "" {
		return CallLeg{}, ErrNotFound
	}
	return t.oneLeg(ctx, `SELECT `+legColumns+` FROM call_legs WHERE sid = $1`, sid)
}

func (t pgTx) GetLegByRole(ctx context.Context, conversationID string, role LegRole) (CallLeg, error) {
	q := `SELECT ` + legColumns + ` FROM call_legs WHERE conversation_id = $1 AND role = $2 ORDER BY created_at ASC LIMIT 1`
	return t.oneLeg(ctx, q, conversationID, string(role))
}

func (t pgTx) oneLeg(ctx context.Context, q string, args ...any) (CallLeg, error) {
	l, err := scanLeg(t.tx.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return CallLeg{}, ErrNotFound
	}
	return l, err
}

func (t pgTx) ListLegs(ctx context.Context, conversationID string) ([]CallLeg, error) {
	q := `SELECT ` + legColumns + ` FROM call_legs WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := t.tx.Query(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallLeg, 0)
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t pgTx) UpdateLeg(ctx context.Context, l CallLeg) error {
	const q = `UPDATE call_legs SET state = $2, sid = $3, updated_at = $4 WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, l.ID, string(l.State), nullIfEmpty(l.SID), l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t pgTx) DeleteLeg(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM call_legs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	var state string
	if err := row.Scan(&c.ID, &c.Number, &c.CallerID, &state, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	c.State = ConversationState(state)
	return c, nil
}

func scanLeg(row pgx.Row) (CallLeg, error) {
	var l CallLeg
	var role, state string
	if err := row.Scan(&l.ID, &l.ConversationID, &role, &l.Number, &l.SID, &l.AgentID, &state, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return CallLeg{}, err
	}
	l.Role = LegRole(role)
	l.State = LegState(state)
	return l, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
