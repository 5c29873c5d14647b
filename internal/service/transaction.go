package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// inTx runs fn inside one transaction. Any error from fn rolls back and is
// returned unchanged; only begin and commit failures are wrapped.
func inTx(ctx context.Context, provider txProvider, fn func(tx *sqlx.Tx) error) error {
	if provider == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := provider.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit transaction")
	}
	return nil
}
