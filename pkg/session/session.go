// Package session tracks the wallet connection, the network it is on and
// the contract handles bound to the connected account.
package session

import (
	"context"
	"math/big"
	"sync"

	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// Provider is the wallet the session talks to. *wallet.KeyWallet
// implements it.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (int64, error)
	Signer(account common.Address) (chain.Signer, error)
	Events() <-chan wallet.Event
}

// Binder builds contract handles for a signer. beforeSend must be wired
// into every write so a send from an outdated handle set is refused.
type Binder func(signer chain.Signer, beforeSend func() error) (*chain.Contracts, error)

// NewBinder binds the configured contracts on backend.
func NewBinder(backend chain.Backend, addrs chain.Addresses, chainID int64) Binder {
	return func(signer chain.Signer, beforeSend func() error) (*chain.Contracts, error) {
		return chain.Bind(chain.BindOptions{
			Backend:    backend,
			Addresses:  addrs,
			Signer:     signer,
			ChainID:    big.NewInt(chainID),
			BeforeSend: beforeSend,
		})
	}
}

// Handles is one generation of contract handles. It is never mutated; a
// change of account or network produces a new value.
type Handles struct {
	*chain.Contracts
	Account    common.Address
	NetworkID  int64
	Generation uint64
}

type Options struct {
	Provider        Provider
	Binder          Binder
	ExpectedChainID int64
	Bus             *events.Bus
	Log             *logger.Logger
}

type Manager struct {
	provider Provider
	bind     Binder
	expected int64
	bus      *events.Bus
	log      *logger.Logger

	group singleflight.Group

	mu         sync.RWMutex
	state      models.ConnectionState
	account    common.Address
	network    int64
	handles    *Handles
	generation uint64
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		provider: opts.Provider,
		bind:     opts.Binder,
		expected: opts.ExpectedChainID,
		bus:      opts.Bus,
		log:      opts.Log,
		state:    models.Disconnected,
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	return m
}

// Connect asks the wallet for account access. Calls made while a connect
// is in flight share its outcome. Joining a silent restore that ends
// disconnected falls through to a prompting attempt.
func (m *Manager) Connect(ctx context.Context) (models.Session, error) {
	if m.provider == nil {
		return m.Snapshot(), errs.New(errs.ProviderUnavailable, "no wallet provider")
	}
	if snap := m.Snapshot(); snap.State == models.Connected {
		return snap, nil
	}
	prompting := func() (interface{}, error) {
		return true, m.connect(ctx, true)
	}
	v, err, shared := m.group.Do("connect", prompting)
	if shared {
		m.log.Debug("Connect coalesced with in-flight attempt")
	}
	if prompted, _ := v.(bool); !prompted && m.Snapshot().State != models.Connected {
		// Joined a silent restore that found no granted account.
		_, err, _ = m.group.Do("connect", prompting)
	}
	return m.Snapshot(), err
}

// SilentRestore reconnects to an already granted account without
// prompting. Failures leave the session disconnected and are only logged.
func (m *Manager) SilentRestore(ctx context.Context) models.Session {
	if m.provider == nil {
		return m.Snapshot()
	}
	if snap := m.Snapshot(); snap.State == models.Connected {
		return snap
	}
	_, err, _ := m.group.Do("connect", func() (interface{}, error) {
		return false, m.connect(ctx, false)
	})
	if err != nil {
		m.log.Debug("Silent restore failed", "error", err)
	}
	return m.Snapshot()
}

func (m *Manager) connect(ctx context.Context, prompt bool) error {
	m.setState(models.Connecting)

	var (
		accounts []common.Address
		err      error
	)
	if prompt {
		accounts, err = m.provider.RequestAccounts(ctx)
	} else {
		accounts, err = m.provider.Accounts(ctx)
	}
	if err != nil {
		m.setState(models.Disconnected)
		return errs.Classify(err)
	}
	if len(accounts) == 0 {
		m.setState(models.Disconnected)
		if prompt {
			return errs.New(errs.UserRejected, "wallet returned no accounts")
		}
		return nil
	}

	network, err := m.provider.ChainID(ctx)
	if err != nil {
		m.setState(models.Disconnected)
		return errs.Wrap(errs.NetworkError, err)
	}

	m.mu.Lock()
	err = m.rebuildLocked(accounts[0], network)
	if err != nil {
		m.resetLocked()
	}
	m.mu.Unlock()
	m.publish()
	if err != nil {
		return err
	}

	m.log.Info("Wallet connected", "account", accounts[0].Hex(), "network", network)
	if network != m.expected && m.expected != 0 {
		m.log.Warn("Wallet is on the wrong network", "network", network, "expected", m.expected)
	}
	return nil
}

// rebuildLocked replaces the handle set. Caller holds mu.
func (m *Manager) rebuildLocked(account common.Address, network int64) error {
	m.generation++
	gen := m.generation
	m.account = account
	m.network = network
	m.handles = nil

	signer, err := m.provider.Signer(account)
	if err != nil {
		return errs.Classify(err)
	}
	contracts, err := m.bind(signer, func() error { return m.validateGeneration(gen) })
	if err != nil {
		return errs.Wrap(errs.NetworkError, err)
	}
	m.handles = &Handles{
		Contracts:  contracts,
		Account:    account,
		NetworkID:  network,
		Generation: gen,
	}
	m.state = models.Connected
	return nil
}

func (m *Manager) resetLocked() {
	m.generation++
	m.state = models.Disconnected
	m.account = common.Address{}
	m.handles = nil
}

// Disconnect clears local session state. The wallet's own grant stays.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	was := m.state
	m.resetLocked()
	m.mu.Unlock()
	if was != models.Disconnected {
		m.log.Info("Wallet disconnected")
	}
	m.publish()
}

// OnAccountsChanged handles the wallet's accountsChanged event.
func (m *Manager) OnAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.Disconnect()
		return
	}
	m.mu.Lock()
	if m.state != models.Connected {
		m.mu.Unlock()
		return
	}
	if m.account == accounts[0] {
		m.mu.Unlock()
		return
	}
	err := m.rebuildLocked(accounts[0], m.network)
	if err != nil {
		m.resetLocked()
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Error("Failed to rebind after account switch", "error", err)
	} else {
		m.log.Info("Wallet account switched", "account", accounts[0].Hex())
	}
	m.publish()
}

// OnNetworkChanged handles the wallet's chainChanged event.
func (m *Manager) OnNetworkChanged(networkID int64) {
	m.mu.Lock()
	if m.network == networkID {
		m.mu.Unlock()
		return
	}
	var err error
	if m.state == models.Connected {
		err = m.rebuildLocked(m.account, networkID)
		if err != nil {
			m.resetLocked()
		}
	} else {
		m.network = networkID
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Error("Failed to rebind after network change", "error", err)
	}
	if m.expected != 0 && networkID != m.expected {
		m.log.Warn("Wallet switched to an unexpected network", "network", networkID, "expected", m.expected)
	} else {
		m.log.Info("Wallet network changed", "network", networkID)
	}
	m.publish()
}

// Watch dispatches wallet events until ctx ends or the stream closes.
func (m *Manager) Watch(ctx context.Context) {
	if m.provider == nil {
		return
	}
	stream := m.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			switch ev.Type {
			case wallet.AccountsChanged:
				m.OnAccountsChanged(ev.Accounts)
			case wallet.ChainChanged:
				m.OnNetworkChanged(ev.ChainID)
			}
		}
	}
}

// Handles returns the current handle set.
func (m *Manager) Handles() (*Handles, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != models.Connected || m.handles == nil {
		return nil, errs.New(errs.StaleSession, "wallet is not connected")
	}
	if err := m.networkErrLocked(); err != nil {
		return nil, err
	}
	return m.handles, nil
}

// Validate fails when h is no longer the current generation or the wallet
// is on the wrong network.
func (m *Manager) Validate(h *Handles) error {
	if h == nil {
		return errs.New(errs.StaleSession, "no session handles")
	}
	return m.validateGeneration(h.Generation)
}

func (m *Manager) validateGeneration(gen uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != models.Connected || m.handles == nil || m.generation != gen {
		return errs.New(errs.StaleSession, "session changed since the operation started")
	}
	return m.networkErrLocked()
}

func (m *Manager) networkErrLocked() error {
	if m.expected != 0 && m.network != m.expected {
		return errs.Newf(errs.WrongNetwork, "wallet is on chain %d, expected %d", m.network, m.expected)
	}
	return nil
}

// Snapshot returns a copy of the session state.
func (m *Manager) Snapshot() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := models.Session{
		State:             m.state,
		NetworkID:         m.network,
		ExpectedNetworkID: m.expected,
		Generation:        m.generation,
	}
	if m.state == models.Connected {
		s.WalletAddress = m.account
	}
	if m.handles != nil {
		s.Contracts = m.handles.Names()
	}
	return s
}

// Account returns the connected account.
func (m *Manager) Account() (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account, m.state == models.Connected
}

// BalanceOf reads owner's token balance through the current handles.
func (m *Manager) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	h, err := m.Handles()
	if err != nil {
		return nil, err
	}
	return h.Token.BalanceOf(ctx, owner)
}

func (m *Manager) setState(s models.ConnectionState) {
	m.mu.Lock()
	changed := m.state != s
	// Connecting never downgrades an established session.
	if s == models.Connecting && m.state == models.Connected {
		changed = false
	} else {
		m.state = s
	}
	m.mu.Unlock()
	if changed {
		m.publish()
	}
}

func (m *Manager) publish() {
	m.bus.Publish(events.Event{Type: events.EventSessionChanged, Data: m.Snapshot()})
}
