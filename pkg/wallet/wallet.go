// Package wallet provides the wallet the session connects through: a set of
// local keys guarded by an approval hook, with the account/network event
// stream an injected browser wallet would offer.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type EventType string

const (
	AccountsChanged EventType = "accountsChanged"
	ChainChanged    EventType = "chainChanged"
)

// Event mirrors the EIP-1193 provider events.
type Event struct {
	Type     EventType
	Accounts []common.Address
	ChainID  int64
}

// ChainReader reports the chain id of the node the wallet signs for.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type Options struct {
	Keys     []*ecdsa.PrivateKey
	Approver Approver
	Chain    ChainReader
	// Authorized marks the accounts as already granted, so silent account
	// reads return them without a connect prompt.
	Authorized bool
	Log        *logger.Logger
}

// KeyWallet is a wallet provider backed by in-process keys.
type KeyWallet struct {
	mu         sync.Mutex
	keys       []*ecdsa.PrivateKey
	addrs      []common.Address
	selected   int
	authorized bool
	locked     bool
	approver   Approver
	chain      ChainReader
	events     chan Event
	log        *logger.Logger
}

func New(opts Options) *KeyWallet {
	w := &KeyWallet{
		keys:       opts.Keys,
		approver:   opts.Approver,
		chain:      opts.Chain,
		authorized: opts.Authorized,
		events:     make(chan Event, 16),
		log:        opts.Log,
	}
	if w.approver == nil {
		w.approver = AutoApprove
	}
	if w.log == nil {
		w.log = logger.Nop()
	}
	for _, k := range opts.Keys {
		w.addrs = append(w.addrs, crypto.PubkeyToAddress(k.PublicKey))
	}
	return w
}

// Available reports whether the wallet holds any key at all.
func (w *KeyWallet) Available() bool {
	return len(w.keys) > 0
}

// ordered returns the accounts with the selected one first. Caller holds mu.
func (w *KeyWallet) ordered() []common.Address {
	out := make([]common.Address, 0, len(w.addrs))
	out = append(out, w.addrs[w.selected])
	for i, a := range w.addrs {
		if i != w.selected {
			out = append(out, a)
		}
	}
	return out
}

// RequestAccounts asks the user to grant access. It prompts even when the
// wallet is already authorized, like eth_requestAccounts on a locked wallet.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if !w.Available() {
		return nil, errs.New(errs.ProviderUnavailable, "no wallet keys configured")
	}
	w.mu.Lock()
	accounts := w.ordered()
	w.mu.Unlock()

	ok, err := w.approver.Approve(ctx, Request{Kind: RequestConnect, Accounts: accounts})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UserRejected, "user rejected the connection request")
	}

	w.mu.Lock()
	w.authorized = true
	w.locked = false
	accounts = w.ordered()
	w.mu.Unlock()
	w.log.Info("Wallet accounts granted", "account", accounts[0].Hex(), "count", len(accounts))
	return accounts, nil
}

// Accounts returns the granted accounts without prompting.
func (w *KeyWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	if !w.Available() {
		return nil, errs.New(errs.ProviderUnavailable, "no wallet keys configured")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized || w.locked {
		return nil, nil
	}
	return w.ordered(), nil
}

func (w *KeyWallet) ChainID(ctx context.Context) (int64, error) {
	if w.chain == nil {
		return 0, errs.New(errs.ProviderUnavailable, "wallet has no node connection")
	}
	id, err := w.chain.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

// Signer returns a signer for one of the granted accounts.
func (w *KeyWallet) Signer(account common.Address) (chain.Signer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized || w.locked {
		return nil, errs.New(errs.UserRejected, "wallet is locked")
	}
	for i, a := range w.addrs {
		if a == account {
			return &keySigner{wallet: w, key: w.keys[i], addr: a}, nil
		}
	}
	return nil, fmt.Errorf("account %s is not held by this wallet", account.Hex())
}

// Events is the accountsChanged / chainChanged stream.
func (w *KeyWallet) Events() <-chan Event {
	return w.events
}

func (w *KeyWallet) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.Warn("Wallet event dropped", "type", ev.Type)
	}
}

// SelectAccount switches the active account, as a user would in the wallet UI.
func (w *KeyWallet) SelectAccount(account common.Address) error {
	w.mu.Lock()
	idx := -1
	for i, a := range w.addrs {
		if a == account {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("account %s is not held by this wallet", account.Hex())
	}
	w.selected = idx
	notify := w.authorized && !w.locked
	accounts := w.ordered()
	w.mu.Unlock()

	if notify {
		w.emit(Event{Type: AccountsChanged, Accounts: accounts})
	}
	return nil
}

// Lock hides all accounts; subscribers see accountsChanged([]).
func (w *KeyWallet) Lock() {
	w.mu.Lock()
	wasOpen := w.authorized && !w.locked
	w.locked = true
	w.mu.Unlock()
	if wasOpen {
		w.emit(Event{Type: AccountsChanged, Accounts: []common.Address{}})
	}
}

// WatchNetwork polls the node's chain id and emits chainChanged when it
// moves. It returns when ctx ends.
func (w *KeyWallet) WatchNetwork(ctx context.Context, interval time.Duration) {
	if w.chain == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	if id, err := w.ChainID(ctx); err == nil {
		last = id
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, err := w.ChainID(ctx)
			if err != nil {
				w.log.Debug("Chain id poll failed", "error", err)
				continue
			}
			if id != last {
				w.log.Info("Wallet network changed", "from", last, "to", id)
				last = id
				w.emit(Event{Type: ChainChanged, ChainID: id})
			}
		}
	}
}

type keySigner struct {
	wallet *KeyWallet
	key    *ecdsa.PrivateKey
	addr   common.Address
}

func (s *keySigner) Address() common.Address { return s.addr }

// SignTx blocks on the approval hook. It has no timeout of its own.
func (s *keySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.wallet.mu.Lock()
	locked := s.wallet.locked
	s.wallet.mu.Unlock()
	if locked {
		return nil, errs.New(errs.UserRejected, "wallet is locked")
	}

	ok, err := s.wallet.approver.Approve(ctx, Request{Kind: RequestSign, Account: s.addr, Tx: tx, ChainID: chainID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UserRejected, "user rejected the transaction")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
