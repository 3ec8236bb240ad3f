/*
store.go - Transaction boundary shared by every persistence interface

PURPOSE:
  The territory and commission stores are separate interfaces, but the
  invariants of this engine need several writes to commit or roll back
  together (conflict check + territory insert, supersession + new
  assignment, a batch of ledger transitions). Transactor is the one
  capability both interfaces share.

CONTEXT-CARRIED TRANSACTIONS:
  WithTx hands fn a derived context. Every store method called with that
  context joins the open transaction, including collaborators implemented
  on the same database (account repointing). Calling WithTx again with a
  transactional context simply runs fn inside the existing transaction.

IMPLEMENTATIONS:
  - store/sqlite: database/sql transaction carried in the context
*/
package generic

import (
	"context"

	"go.uber.org/zap"
)

// Transactor runs fn atomically. If fn returns an error the transaction is
// rolled back; otherwise it is committed.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RetryTx runs fn in a transaction and retries the whole transaction on
// transient failures. fn must not have side effects outside the store.
func RetryTx(ctx context.Context, policy RetryPolicy, tx Transactor, op string, log *zap.Logger, fn func(ctx context.Context) error) error {
	return Retry(ctx, policy, op, log, func() error {
		return tx.WithTx(ctx, fn)
	})
}
