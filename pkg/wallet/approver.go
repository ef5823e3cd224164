package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type RequestKind string

const (
	RequestConnect RequestKind = "connect"
	RequestSign    RequestKind = "sign"
)

// Request is what the wallet asks its user to approve.
type Request struct {
	Kind     RequestKind
	Accounts []common.Address
	Account  common.Address
	Tx       *types.Transaction
	ChainID  *big.Int
}

// Approver stands in for the wallet's confirmation dialog. Returning false
// declines the request.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

type ApproverFunc func(ctx context.Context, req Request) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// AutoApprove accepts everything. Used for scripted runs and tests.
var AutoApprove = ApproverFunc(func(context.Context, Request) (bool, error) { return true, nil })

// Prompt is one pending approval handed to an interactive UI.
type Prompt struct {
	Request Request
	reply   chan bool
}

// Answer resolves the prompt. Only the first answer counts.
func (p Prompt) Answer(ok bool) {
	select {
	case p.reply <- ok:
	default:
	}
}

// PromptApprover forwards requests to a UI over a channel and blocks until
// the UI answers. There is no timeout; the wait ends only when the user
// answers or ctx is cancelled.
type PromptApprover struct {
	prompts chan Prompt
}

func NewPromptApprover() *PromptApprover {
	return &PromptApprover{prompts: make(chan Prompt)}
}

// Prompts is the stream the UI reads from.
func (a *PromptApprover) Prompts() <-chan Prompt {
	return a.prompts
}

func (a *PromptApprover) Approve(ctx context.Context, req Request) (bool, error) {
	p := Prompt{Request: req, reply: make(chan bool, 1)}
	select {
	case a.prompts <- p:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-p.reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
