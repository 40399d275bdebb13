package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager coordinates writes that span multiple repositories inside a
// single database transaction. If fn returns an error the transaction is
// rolled back; otherwise it is committed.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
