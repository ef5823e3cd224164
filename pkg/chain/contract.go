package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions on behalf of one account. SignTx may block for
// as long as the wallet takes to approve, and returns a UserRejected error
// when the wallet declines.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ErrNoSigner is returned by write methods on read-only bindings.
var ErrNoSigner = errors.New("contract bound without a signer")

// gasHeadroom pads estimates by 20%.
const gasHeadroom = 120

type boundContract struct {
	address    common.Address
	abi        abi.ABI
	contract   *bind.BoundContract
	backend    Backend
	signer     Signer
	chainID    *big.Int
	beforeSend func() error
}

func newBoundContract(addr common.Address, parsed abi.ABI, opts BindOptions) boundContract {
	return boundContract{
		address:    addr,
		abi:        parsed,
		contract:   bind.NewBoundContract(addr, parsed, opts.Backend, opts.Backend, nil),
		backend:    opts.Backend,
		signer:     opts.Signer,
		chainID:    opts.ChainID,
		beforeSend: opts.BeforeSend,
	}
}

func (c *boundContract) Address() common.Address { return c.address }

func (c *boundContract) from() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx, From: c.from()}, &out, method, args...)
	if errors.Is(err, bind.ErrNoCode) {
		return nil, fmt.Errorf("call %s: empty result, is a contract deployed at %s?", method, c.address.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// transact signs a call to method and broadcasts it once beforeSend allows.
// The gas limit is estimated here so it carries headroom; pricing, nonce
// and signing are left to the bound contract.
func (c *boundContract) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	from := c.signer.Address()
	to := c.address
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: input})
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", method, err)
	}

	var signErr error
	opts := &bind.TransactOpts{
		From:     from,
		Value:    value,
		GasLimit: gas * gasHeadroom / 100,
		Context:  ctx,
		NoSend:   true,
		Signer: func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
			signed, err := c.signer.SignTx(ctx, tx, c.chainID)
			signErr = err
			return signed, err
		},
	}
	signed, err := c.contract.RawTransact(opts, input)
	if signErr != nil {
		return nil, signErr
	}
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", method, err)
	}
	// The session may have moved on while the wallet was prompting.
	if c.beforeSend != nil {
		if err := c.beforeSend(); err != nil {
			return nil, err
		}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	return signed, nil
}

func outBigInt(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: expected uint256, got %T", i, out[i])
	}
	return v, nil
}

func outAddress(out []interface{}, i int) (common.Address, error) {
	if i >= len(out) {
		return common.Address{}, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d: expected address, got %T", i, out[i])
	}
	return v, nil
}

func outString(out []interface{}, i int) (string, error) {
	if i >= len(out) {
		return "", fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(string)
	if !ok {
		return "", fmt.Errorf("output %d: expected string, got %T", i, out[i])
	}
	return v, nil
}

func outBool(out []interface{}, i int) (bool, error) {
	if i >= len(out) {
		return false, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(bool)
	if !ok {
		return false, fmt.Errorf("output %d: expected bool, got %T", i, out[i])
	}
	return v, nil
}

func outUint64s(out []interface{}, i int) ([]uint64, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: expected uint256[], got %T", i, out[i])
	}
	ids := make([]uint64, 0, len(v))
	for _, id := range v {
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}
