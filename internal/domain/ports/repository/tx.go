package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Postgres passes a pgx.Tx; nil means "no transaction".
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction.
// Repositories receive the handle through their tx argument and switch to
// SELECT ... FOR UPDATE when it is a real transaction. They MUST accept nil.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
