// Package balance keeps an advisory, eventually consistent view of token
// balances. Nothing here is authoritative; the contract re-checks every
// write.
package balance

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/logger"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

const DefaultInterval = 30 * time.Second

// ReadTimeout bounds a single shared balance read.
var ReadTimeout = 30 * time.Second

// Reader reads a token balance from the chain.
type Reader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

type Options struct {
	Reader   Reader
	Interval time.Duration
	Bus      *events.Bus
	Log      *logger.Logger
}

type entry struct {
	snap    models.BalanceSnapshot
	invalid bool
}

type Cache struct {
	reader   Reader
	interval time.Duration
	bus      *events.Bus
	log      *logger.Logger
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	entries  map[common.Address]*entry
	versions map[common.Address]uint64
	epoch    uint64
}

func New(opts Options) *Cache {
	c := &Cache{
		reader:   opts.Reader,
		interval: opts.Interval,
		bus:      opts.Bus,
		log:      opts.Log,
		now:      time.Now,
		entries:  make(map[common.Address]*entry),
		versions: make(map[common.Address]uint64),
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	return c
}

func (c *Cache) Interval() time.Duration { return c.interval }

// Get returns the cached snapshot when it is fresh. Otherwise it starts a
// background refresh and returns what it has: the previous value marked
// stale, or an unknown snapshot if owner was never read.
func (c *Cache) Get(ctx context.Context, owner common.Address) models.BalanceSnapshot {
	c.mu.Lock()
	e, ok := c.entries[owner]
	if !ok {
		e = &entry{snap: models.BalanceSnapshot{Owner: owner}}
		c.entries[owner] = e
	}
	snap := e.snap
	fresh := snap.Known() && !e.invalid && c.now().Sub(snap.FetchedAt) < c.interval
	c.mu.Unlock()

	if fresh {
		return snap
	}
	c.refreshAsync(owner)
	snap.Stale = true
	return snap
}

// Peek returns the cached snapshot without triggering a read.
func (c *Cache) Peek(owner common.Address) models.BalanceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[owner]; ok {
		return e.snap
	}
	return models.BalanceSnapshot{Owner: owner}
}

// Snapshots returns every tracked snapshot ordered by owner.
func (c *Cache) Snapshots() []models.BalanceSnapshot {
	c.mu.Lock()
	out := make([]models.BalanceSnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.snap)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Hex() < out[j].Owner.Hex() })
	return out
}

// Refresh reads owner's balance. Concurrent calls share one read and one
// result. Cancelling ctx only stops this caller from waiting.
func (c *Cache) Refresh(ctx context.Context, owner common.Address) (models.BalanceSnapshot, error) {
	ch := c.group.DoChan(owner.Hex(), func() (interface{}, error) {
		return c.read(owner)
	})
	select {
	case res := <-ch:
		snap, _ := res.Val.(models.BalanceSnapshot)
		return snap, res.Err
	case <-ctx.Done():
		return c.Peek(owner), ctx.Err()
	}
}

func (c *Cache) refreshAsync(owner common.Address) {
	c.group.DoChan(owner.Hex(), func() (interface{}, error) {
		return c.read(owner)
	})
}

func (c *Cache) read(owner common.Address) (models.BalanceSnapshot, error) {
	c.mu.Lock()
	epoch, version := c.epoch, c.versions[owner]
	if _, ok := c.entries[owner]; !ok {
		c.entries[owner] = &entry{snap: models.BalanceSnapshot{Owner: owner}}
	}
	c.mu.Unlock()

	if c.reader == nil {
		return c.fail(owner, epoch, errs.New(errs.ProviderUnavailable, "no balance reader"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ReadTimeout)
	defer cancel()
	amount, err := c.reader.BalanceOf(ctx, owner)
	if err != nil {
		return c.fail(owner, epoch, err)
	}

	snap := models.BalanceSnapshot{Owner: owner, Amount: new(big.Int).Set(amount), FetchedAt: c.now()}
	c.mu.Lock()
	if c.epoch != epoch {
		// Reset while reading; the result belongs to a previous session.
		c.mu.Unlock()
		return snap, nil
	}
	if c.versions[owner] != version {
		// Invalidated or forgotten while reading. The value may predate
		// the change, so it is kept only as a stale fallback.
		if e, ok := c.entries[owner]; ok && e.invalid {
			e.snap = snap
			e.snap.Stale = true
			e.invalid = true
		}
		c.mu.Unlock()
		return snap, nil
	}
	c.entries[owner] = &entry{snap: snap}
	c.mu.Unlock()

	c.log.Debug("Balance refreshed", "owner", owner.Hex(), "amount", amount.String())
	c.bus.Publish(events.Event{Type: events.EventBalanceUpdated, Data: snap})
	return snap, nil
}

// fail keeps the previous snapshot, marked stale, and reports
// BalanceUnavailable. It never records a zero.
func (c *Cache) fail(owner common.Address, epoch uint64, cause error) (models.BalanceSnapshot, error) {
	c.mu.Lock()
	var prev models.BalanceSnapshot
	if e, ok := c.entries[owner]; ok && c.epoch == epoch {
		e.snap.Stale = true
		prev = e.snap
	} else {
		prev = models.BalanceSnapshot{Owner: owner, Stale: true}
	}
	c.mu.Unlock()

	err := &errs.Error{Kind: errs.BalanceUnavailable, Reason: cause.Error(), Err: cause}
	c.log.Warn("Balance refresh failed", "owner", owner.Hex(), "error", cause)
	c.bus.Publish(events.Event{Type: events.EventBalanceUnavailable, Data: map[string]string{
		"owner": owner.Hex(),
		"error": cause.Error(),
	}})
	return prev, err
}

// Invalidate makes the next Get re-read owner. A read already in flight
// is detached so the next read starts after this call, and its result is
// never served as fresh.
func (c *Cache) Invalidate(owner common.Address) {
	c.mu.Lock()
	if e, ok := c.entries[owner]; ok {
		e.invalid = true
	}
	c.versions[owner]++
	c.mu.Unlock()
	c.group.Forget(owner.Hex())
}

// Forget drops owner's snapshot.
func (c *Cache) Forget(owner common.Address) {
	c.mu.Lock()
	delete(c.entries, owner)
	c.versions[owner]++
	c.mu.Unlock()
	c.group.Forget(owner.Hex())
}

// Reset drops every snapshot. Reads in flight are discarded on completion.
func (c *Cache) Reset() {
	c.mu.Lock()
	owners := make([]common.Address, 0, len(c.entries))
	for owner := range c.entries {
		owners = append(owners, owner)
	}
	c.entries = make(map[common.Address]*entry)
	for owner := range c.versions {
		c.versions[owner]++
	}
	c.epoch++
	c.mu.Unlock()
	for _, owner := range owners {
		c.group.Forget(owner.Hex())
	}
}

func (c *Cache) owners() []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.Address, 0, len(c.entries))
	for owner := range c.entries {
		out = append(out, owner)
	}
	return out
}

// Run owns the polling timer. While a session is connected it refreshes
// every tracked owner each interval. Session events trigger a refresh on
// connect or account switch and a reset on disconnect.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var sub events.Subscriber
	if c.bus != nil {
		sub = c.bus.Subscribe()
		defer c.bus.Unsubscribe(sub)
	}
	connected := c.bus == nil
	var account common.Address

	c.log.Debug("Balance cache started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !connected {
				continue
			}
			for _, owner := range c.owners() {
				c.refreshAsync(owner)
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type != events.EventSessionChanged {
				continue
			}
			s, ok := ev.Data.(models.Session)
			if !ok {
				continue
			}
			switch s.State {
			case models.Disconnected:
				if connected {
					c.Reset()
				}
				connected = false
				account = common.Address{}
			case models.Connected:
				if !connected || s.WalletAddress != account {
					c.Reset()
					account = s.WalletAddress
					c.refreshAsync(account)
				}
				connected = true
			}
		}
	}
}
