package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// settlementLockClass namespaces pool advisory locks away from any other
// advisory-lock user sharing the database.
const settlementLockClass = 0x5e77

// AcquireSettlementLock takes a transaction-scoped advisory lock on a pool
// id, blocking concurrent settlement of the same pool across workers. The
// lock is released automatically when the surrounding transaction ends.
func AcquireSettlementLock(ctx context.Context, tx pgx.Tx, poolID uint64) error {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock($1, $2)`,
		int32(settlementLockClass), int32(poolID)); err != nil {
		return fmt.Errorf("acquiring settlement lock for pool %d: %w", poolID, err)
	}
	return nil
}
