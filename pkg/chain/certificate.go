package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Certificate binds the ERC-721 course certificate contract.
type Certificate struct {
	boundContract
}

func (c *Certificate) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return outBigInt(out, 0)
}

func (c *Certificate) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	return outString(out, 0)
}
