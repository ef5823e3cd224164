package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rahuls2764/Skill/pkg/balance"
	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/ipfs"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/orchestrator"
	"github.com/rahuls2764/Skill/pkg/session"
	"github.com/rahuls2764/Skill/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// app is the wired core: one node connection, one wallet, one session.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	bus      *events.Bus
	client   *ethclient.Client
	wallet   *wallet.KeyWallet
	prompts  *wallet.PromptApprover
	sessions *session.Manager
	balances *balance.Cache
	orch     *orchestrator.Orchestrator
}

// newApp dials the node and builds the core. With interactive set and
// auto approve off, wallet requests are routed to a prompt stream for the
// UI to answer.
func newApp(ctx context.Context, cfg config.Config, log *logger.Logger, interactive bool) (*app, error) {
	client, rpcURL, err := chain.Dial(ctx, cfg.Network.RPCURLs)
	if err != nil {
		return nil, fmt.Errorf("no reachable RPC for %s: %w", cfg.Network.Name, err)
	}
	log.Info("Connected to node", "rpc", rpcURL)

	chainID := cfg.Network.ChainID
	if chainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		chainID = id.Int64()
		log.Warn("Network chain id not configured, using node's", "chain_id", chainID)
	}

	keys, err := wallet.LoadKeys(cfg.Wallet)
	if err != nil {
		client.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, bus: events.NewBus(), client: client}

	var approver wallet.Approver = wallet.AutoApprove
	if interactive && !cfg.Wallet.AutoApprove {
		a.prompts = wallet.NewPromptApprover()
		approver = a.prompts
	}
	a.wallet = wallet.New(wallet.Options{
		Keys:       keys,
		Approver:   approver,
		Chain:      client,
		Authorized: cfg.Wallet.AutoConnect,
		Log:        log.With("component", "wallet"),
	})

	addrs := chain.Addresses{
		Token:       common.HexToAddress(cfg.Contracts.Token),
		Platform:    common.HexToAddress(cfg.Contracts.Platform),
		Certificate: common.HexToAddress(cfg.Contracts.Certificate),
	}
	a.sessions = session.NewManager(session.Options{
		Provider:        a.wallet,
		Binder:          session.NewBinder(client, addrs, chainID),
		ExpectedChainID: chainID,
		Bus:             a.bus,
		Log:             log.With("component", "session"),
	})
	a.balances = balance.New(balance.Options{
		Reader:   a.sessions,
		Interval: cfg.BalanceRefreshInterval(),
		Bus:      a.bus,
		Log:      log.With("component", "balance"),
	})

	settings, err := orchestrator.SettingsFromConfig(cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.orch = orchestrator.New(orchestrator.Options{
		Sessions: a.sessions,
		Balances: a.balances,
		Uploader: ipfs.NewClient(cfg.BackendURL, log.With("component", "ipfs")),
		Bus:      a.bus,
		Log:      log.With("component", "orchestrator"),
		Settings: settings,
	})
	return a, nil
}

// run starts the background loops. They stop when ctx ends.
func (a *app) run(ctx context.Context) {
	go a.sessions.Watch(ctx)
	go a.wallet.WatchNetwork(ctx, cfgPollInterval(a.cfg))
	go a.balances.Run(ctx)
	if a.cfg.Wallet.AutoConnect {
		a.sessions.SilentRestore(ctx)
	}
}

func (a *app) close() {
	a.client.Close()
}

// connect makes sure a session is up for one-shot commands.
func (a *app) connect(ctx context.Context) error {
	if _, err := a.sessions.Connect(ctx); err != nil {
		return err
	}
	_, err := a.sessions.Handles()
	return err
}

func cfgPollInterval(cfg config.Config) time.Duration {
	d := cfg.BalanceRefreshInterval()
	if d > 15*time.Second {
		d = 15 * time.Second
	}
	return d
}
