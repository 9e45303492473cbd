package memory

import (
	"context"

	"valet/internal/domain/repositories"
)

// TxManager satisfies the TransactionManager interface without real
// transactions: the store's single mutex already serializes writes, and
// callers in tests and dev mode do not need atomicity across failures.
type TxManager struct{}

// NewTxManager creates a pass-through transaction manager.
func NewTxManager() *TxManager {
	return &TxManager{}
}

// ExecTx runs fn directly with the caller's context.
func (TxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}
