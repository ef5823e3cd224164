package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var DialTimeout = 10 * time.Second

// Backend is the node API the bindings need. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dial connects to the first RPC URL that answers eth_chainId, trying them
// in order. It returns the client and the URL that worked.
func Dial(ctx context.Context, rpcURLs []string) (*ethclient.Client, string, error) {
	var lastErr error
	for _, rpcURL := range rpcURLs {
		dctx, cancel := context.WithTimeout(ctx, DialTimeout)
		client, err := ethclient.DialContext(dctx, rpcURL)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		_, err = client.ChainID(dctx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			continue
		}
		return client, rpcURL, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC URLs configured")
	}
	return nil, "", lastErr
}

// ProbeRPC reports the chain id an RPC URL answers with.
func ProbeRPC(ctx context.Context, rpcURL string) models.RPCResult {
	res := models.RPCResult{URL: rpcURL}
	dctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dctx, rpcURL)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}
	defer client.Close()
	id, err := client.ChainID(dctx)
	if err != nil {
		res.Status = "error"
		res.Error = fmt.Sprintf("Failed to get ChainID: %v", err)
		return res
	}
	res.Status = "ok"
	res.ChainID = id.Int64()
	return res
}

// HasCode reports whether a contract is deployed at addr.
func HasCode(ctx context.Context, client *ethclient.Client, addr common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}
