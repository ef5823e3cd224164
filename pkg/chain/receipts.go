package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/rahuls2764/Skill/pkg/errs"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipts looks up and waits for transaction receipts.
type Receipts struct {
	backend Backend
	chainID *big.Int
}

func NewReceipts(backend Backend, chainID *big.Int) *Receipts {
	return &Receipts{backend: backend, chainID: chainID}
}

// Receipt performs a single lookup. It returns nil, nil while the
// transaction is still unmined.
func (r *Receipts) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// WaitMined blocks until tx is mined or ctx ends. A failed receipt is
// turned into a ContractReverted error carrying the replayed revert reason.
func (r *Receipts) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, r.revertError(ctx, tx, receipt)
	}
	return receipt, nil
}

// revertError replays the failed call against the block it was mined in to
// recover the reason string.
func (r *Receipts) revertError(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	hash := tx.Hash().Hex()
	from, err := types.Sender(types.LatestSignerForChainID(r.chainID), tx)
	if err != nil {
		return errs.WithTx(errs.Reverted(""), hash)
	}
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, callErr := r.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return errs.WithTx(errs.Reverted(""), hash)
	}
	if errs.KindOf(errs.Classify(callErr)) == errs.ContractReverted {
		return errs.WithTx(callErr, hash)
	}
	return errs.WithTx(errs.Reverted(""), hash)
}
