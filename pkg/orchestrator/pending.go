package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

type slot struct {
	account common.Address
	kind    models.TxKind
}

// Tracker enforces one in-flight transaction per (account, kind) and keeps
// the history for display and recheck.
type Tracker struct {
	mu      sync.Mutex
	active  map[slot]*models.PendingTransaction
	history []*models.PendingTransaction
	limit   int
	bus     *events.Bus
	now     func() time.Time
}

func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		active: make(map[slot]*models.PendingTransaction),
		limit:  100,
		bus:    bus,
		now:    time.Now,
	}
}

// ticket is the handle a workflow holds on its pending record.
type ticket struct {
	t   *Tracker
	key slot
	rec *models.PendingTransaction
}

// Begin reserves the slot for a new transaction in state Building.
func (t *Tracker) Begin(account common.Address, kind models.TxKind) (*ticket, error) {
	key := slot{account: account, kind: kind}
	t.mu.Lock()
	if cur, ok := t.active[key]; ok && cur.InFlight() {
		t.mu.Unlock()
		return nil, errs.Newf(errs.AlreadyInProgress, "a %s transaction is already in progress", kind)
	}
	now := t.now()
	rec := &models.PendingTransaction{
		Kind:        kind,
		Account:     account,
		SubmittedAt: now,
		State:       models.TxBuilding,
		UpdatedAt:   now,
	}
	t.active[key] = rec
	t.history = append(t.history, rec)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}
	snap := *rec
	t.mu.Unlock()

	t.publish(snap)
	return &ticket{t: t, key: key, rec: rec}, nil
}

func (k *ticket) update(fn func(rec *models.PendingTransaction)) {
	k.t.mu.Lock()
	fn(k.rec)
	k.rec.UpdatedAt = k.t.now()
	snap := *k.rec
	k.t.mu.Unlock()
	k.t.publish(snap)
}

func (k *ticket) awaitingSignature() {
	k.update(func(rec *models.PendingTransaction) { rec.State = models.TxAwaitingSignature })
}

func (k *ticket) submitted(hash common.Hash) {
	k.update(func(rec *models.PendingTransaction) {
		rec.State = models.TxSubmitted
		rec.Hash = hash.Hex()
		rec.SubmittedAt = k.t.now()
	})
}

func (k *ticket) hash() string {
	k.t.mu.Lock()
	defer k.t.mu.Unlock()
	return k.rec.Hash
}

// finish settles the record from the workflow's outcome. A confirmation
// timeout leaves it Submitted and releases the slot.
func (k *ticket) finish(err error) {
	k.update(func(rec *models.PendingTransaction) {
		switch {
		case err == nil:
			rec.State = models.TxConfirmed
		case errs.KindOf(err) == errs.ConfirmationTimeout:
			rec.TimedOut = true
			rec.Error = err.Error()
		default:
			rec.State = models.TxFailed
			rec.Error = err.Error()
		}
	})
}

// Resolve applies a recheck outcome to the record with the given hash.
func (t *Tracker) Resolve(hash string, state models.TxState, errMsg string) (models.PendingTransaction, bool) {
	t.mu.Lock()
	var found *models.PendingTransaction
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Hash == hash {
			found = t.history[i]
			break
		}
	}
	if found == nil {
		t.mu.Unlock()
		return models.PendingTransaction{}, false
	}
	found.State = state
	found.Error = errMsg
	if state == models.TxConfirmed || state == models.TxFailed {
		found.TimedOut = false
	}
	found.UpdatedAt = t.now()
	snap := *found
	t.mu.Unlock()

	t.publish(snap)
	return snap, true
}

// Lookup finds a record by hash.
func (t *Tracker) Lookup(hash string) (models.PendingTransaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Hash == hash {
			return *t.history[i], true
		}
	}
	return models.PendingTransaction{}, false
}

// List returns all records, newest first.
func (t *Tracker) List() []models.PendingTransaction {
	t.mu.Lock()
	out := make([]models.PendingTransaction, 0, len(t.history))
	for _, rec := range t.history {
		out = append(out, *rec)
	}
	t.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (t *Tracker) publish(rec models.PendingTransaction) {
	t.bus.Publish(events.Event{Type: events.EventTxUpdated, Data: rec})
}
