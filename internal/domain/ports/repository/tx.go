package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle; nil means run outside a transaction.
type Tx interface{}

// TransactionManager runs fn inside a database transaction. The concrete tx handle
// is infra-defined (pgx.Tx for Postgres); repositories accept nil for the
// non-transactional path.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
