package ledger

import "context"

// =============================================================================
// STORE - Persistence contract for balances and transactions
// =============================================================================

// Store persists accounts and their transaction log.
//
// APPEND-ONLY: there is no Update or Delete. Corrections are new transactions.
//
// Apply is the only write. Implementations must, as one atomic unit:
//   - reject a used IdempotencyKey with ErrDuplicateIdempotencyKey
//   - add tx.Delta to the balance, failing with *InsufficientBalanceError
//     when the result would be negative (the check and the write must not
//     be separable by a concurrent Apply for the same professional)
//   - append tx with BalanceAfter set
//
// When a Store is handed out inside a larger atomic unit (see
// marketplace.TxStore), Apply joins that unit and nothing is visible to
// other readers until it commits.
type Store interface {
	// Apply writes tx and returns the updated account.
	Apply(ctx context.Context, tx Transaction) (Account, error)

	// Account returns the current account. A professional with no
	// transactions has a zero balance and version 0.
	Account(ctx context.Context, professionalID ProfessionalID) (Account, error)

	// TransactionByKey returns the transaction written with key, or nil.
	TransactionByKey(ctx context.Context, key string) (*Transaction, error)

	// Transactions returns every transaction for professionalID, oldest first.
	Transactions(ctx context.Context, professionalID ProfessionalID) ([]Transaction, error)
}
