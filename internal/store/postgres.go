// Package store is the PostgreSQL session store. State transitions are conditional writes,
// so concurrent callers racing on the same session cannot both win.
package store

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/session"
)

const codeUniqueViolation = "23505"

//go:embed schema.sql
var schema string

type Config struct {
	DB *pgxpool.Pool
}

type Postgres struct {
	db *pgxpool.Pool
}

var _ session.Store = (*Postgres)(nil)

func NewPostgres(c Config) *Postgres {
	return &Postgres{
		db: c.DB,
	}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return errors.Unavailable(fmt.Errorf("store: ping: %w", err))
	}
	return nil
}

// inTx runs fn in a transaction, rolling back when fn or the commit fails.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return wrap(tx.Commit(ctx), "commit")
}

// wrap classifies a database error: unique violations become CodeAlreadyExists and
// connection level failures CodeUnavailable. Errors that are already typed pass through.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("%s: duplicate %s", op, pgErr.ConstraintName),
			errors.WithCause(err))
	}

	var connErr *pgconn.ConnectError
	if stderrors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return errors.Unavailable(fmt.Errorf("%s: %w", op, err))
	}

	return fmt.Errorf("%s: %w", op, err)
}
