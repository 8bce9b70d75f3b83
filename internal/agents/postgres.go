package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callqueue/pkg/logger"
	"callqueue/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresLocker holds agents with a row lock (SELECT ... FOR UPDATE) for the
// lifetime of one transaction.
type PostgresLocker struct {
	db    DB
	clock func() time.Time
	newID func() string
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	utils.TxBeginner
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresLocker returns a locker on db. A hold keeps one connection of db
// checked out until fn returns, so db must not be the pool fn's own units of
// work draw from.
func NewPostgresLocker(db DB) *PostgresLocker {
	return &PostgresLocker{db: db, clock: time.Now, newID: uuid.NewString}
}

func (l *PostgresLocker) WithExclusiveAgent(ctx context.Context, csrID string, fn func(ctx context.Context, a Agent) error) error {
	var fnErr error
	err := utils.WithTx(ctx, l.db, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		a, err := lockAgent(ctx, tx, csrID)
		if err != nil {
			return err
		}
		if a.Status == StatusOnACall {
			return ErrAgentOnACall
		}

		prior := a.Status
		if err := l.fire(ctx, tx, &a, string(StatusOnACall)); err != nil {
			return err
		}

		fnErr = fn(ctx, a)
		if fnErr == nil {
			return nil
		}

		if err := l.fire(ctx, tx, &a, string(prior)); err != nil {
			// Rolling back restores the prior status as well.
			return errors.Join(fnErr, fmt.Errorf("revert agent status: %w", err))
		}
		logger.From(ctx).Info("agent status reverted", "csr_id", csrID, "status", prior, "err", fnErr)
		return nil
	})
	if err != nil {
		return err
	}
	return fnErr
}

func (l *PostgresLocker) Fire(ctx context.Context, csrID, event string) (Agent, error) {
	var out Agent
	err := utils.WithTx(ctx, l.db, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		a, err := lockAgent(ctx, tx, csrID)
		if err != nil {
			return err
		}
		if err := l.fire(ctx, tx, &a, event); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (l *PostgresLocker) Get(ctx context.Context, csrID string) (Agent, error) {
	return getAgent(ctx, l.db, csrID, false)
}

func (l *PostgresLocker) fire(ctx context.Context, tx pgx.Tx, a *Agent, event string) error {
	next, err := NextStatus(a.Status, event)
	if err != nil {
		return err
	}
	now := l.clock().UTC()

	const upd = `UPDATE agents SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.Exec(ctx, upd, a.ID, string(next), now); err != nil {
		return err
	}

	const ins = `
INSERT INTO agent_status_events (id, agent_id, event, from_status, to_status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	if _, err := tx.Exec(ctx, ins, l.newID(), a.ID, event, string(a.Status), string(next), now); err != nil {
		return err
	}

	a.Status = next
	a.UpdatedAt = now
	return nil
}

func lockAgent(ctx context.Context, tx pgx.Tx, csrID string) (Agent, error) {
	return getAgent(ctx, tx, csrID, true)
}

func getAgent(ctx context.Context, db querier, csrID string, forUpdate bool) (Agent, error) {
	q := `
SELECT id, csr_id, phone_number, status, updated_at
FROM agents
WHERE csr_id = $1
`
	if forUpdate {
		q += `FOR UPDATE
`
	}
	var a Agent
	var status string
	if err := db.QueryRow(ctx, q, csrID).Scan(&a.ID, &a.CSRID, &a.PhoneNumber, &status, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, err
	}
	a.Status = Status(status)
	return a, nil
}
