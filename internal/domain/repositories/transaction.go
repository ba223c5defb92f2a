package repositories

import "context"

// TxFn is a unit of work. Repository calls must use the ctx it receives.
type TxFn func(ctx context.Context) error

// TransactionManager groups thread, message and run writes. The postgres
// implementation commits only when fn returns nil and joins an outer
// transaction when called inside one. The memory implementation runs fn
// directly since each repository call is atomic on its own.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
