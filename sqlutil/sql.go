package sqlutil

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WithTransaction runs fn inside a transaction bound to ctx. The transaction commits when fn returns
// nil and rolls back when it fails or panics; a panic comes back as an error.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(txn *sqlx.Tx) error) (err error) {
	txn, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlutil: begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil && err == nil {
			err = fmt.Errorf("sqlutil: panic in transaction: %v", r)
		}
		if err != nil {
			if rbErr := txn.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return
		}
		if err = txn.Commit(); err != nil {
			err = fmt.Errorf("sqlutil: commit: %w", err)
		}
	}()
	return fn(txn)
}
