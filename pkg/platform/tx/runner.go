package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "credentials/pkg/domain-errors"
)

// DefaultTimeout bounds a unit of work whose caller set no deadline.
const DefaultTimeout = 5 * time.Second

// Runner executes fn as one unit of work.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Bound rejects a cancelled ctx and otherwise applies timeout when ctx carries
// no deadline. The returned cancel func must always be called.
func Bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "unit of work aborted: context cancelled")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// Direct runs fn without a database transaction. Stores backed by memory
// serialize through their own locks.
type Direct struct {
	Timeout time.Duration
}

func (d Direct) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel, err := Bound(ctx, d.Timeout)
	defer cancel()
	if err != nil {
		return err
	}
	return fn(ctx)
}

// SQL runs fn inside a database transaction carried through ctx. A call made
// while ctx already carries a transaction joins it.
type SQL struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQL(db *sql.DB, timeout time.Duration) *SQL {
	return &SQL{db: db, timeout: timeout}
}

func (s *SQL) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	ctx, cancel, err := Bound(ctx, s.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "failed to commit transaction")
	}
	return nil
}
