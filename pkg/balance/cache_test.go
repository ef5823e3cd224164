package balance

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type MockReader struct {
	mock.Mock
}

func (m *MockReader) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	args := m.Called(addr)
	if v := args.Get(0); v != nil {
		return v.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

// countingReader always returns amount and counts reads.
type countingReader struct {
	reads  atomic.Int32
	amount *big.Int
}

func (r *countingReader) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	r.reads.Add(1)
	return r.amount, nil
}

// gatedReader blocks every read until released and counts reads.
type gatedReader struct {
	reads  atomic.Int32
	gate   chan struct{}
	amount *big.Int
}

func (r *gatedReader) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	r.reads.Add(1)
	<-r.gate
	return r.amount, nil
}

func TestRefresh_Coalesces(t *testing.T) {
	reader := &gatedReader{gate: make(chan struct{}), amount: big.NewInt(5)}
	c := New(Options{Reader: reader})

	const callers = 10
	var wg sync.WaitGroup
	snaps := make([]models.BalanceSnapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.Refresh(context.Background(), owner)
			assert.NoError(t, err)
			snaps[i] = snap
		}(i)
	}

	require.Eventually(t, func() bool { return reader.reads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(reader.gate)
	wg.Wait()

	assert.Equal(t, int32(1), reader.reads.Load())
	for _, snap := range snaps {
		assert.Equal(t, snaps[0].FetchedAt, snap.FetchedAt)
		assert.Equal(t, int64(5), snap.Amount.Int64())
	}
}

func TestRefresh_CallerCancelDoesNotCancelRead(t *testing.T) {
	reader := &gatedReader{gate: make(chan struct{}), amount: big.NewInt(9)}
	c := New(Options{Reader: reader})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, owner)
		done <- err
	}()
	require.Eventually(t, func() bool { return reader.reads.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan models.BalanceSnapshot, 1)
	go func() {
		snap, _ := c.Refresh(context.Background(), owner)
		second <- snap
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(reader.gate)
	snap := <-second
	assert.Equal(t, int64(9), snap.Amount.Int64())
	assert.Equal(t, int32(1), reader.reads.Load())
}

func TestGet_UnknownThenFresh(t *testing.T) {
	reader := new(MockReader)
	reader.On("BalanceOf", owner).Return(big.NewInt(5), nil)
	c := New(Options{Reader: reader, Interval: time.Minute})

	snap := c.Get(context.Background(), owner)
	assert.False(t, snap.Known(), "never fetched must not look like zero")
	assert.True(t, snap.Stale)

	require.Eventually(t, func() bool { return c.Peek(owner).Known() }, time.Second, time.Millisecond)

	snap = c.Get(context.Background(), owner)
	assert.False(t, snap.Stale)
	assert.Equal(t, int64(5), snap.Amount.Int64())
	reader.AssertNumberOfCalls(t, "BalanceOf", 1)
}

func TestInvalidateThenGet(t *testing.T) {
	reader := new(MockReader)
	reader.On("BalanceOf", owner).Return(big.NewInt(5), nil).Once()
	reader.On("BalanceOf", owner).Return(big.NewInt(3), nil)
	c := New(Options{Reader: reader, Interval: time.Minute})

	_, err := c.Refresh(context.Background(), owner)
	require.NoError(t, err)

	c.Invalidate(owner)
	snap := c.Get(context.Background(), owner)
	assert.True(t, snap.Stale)
	assert.Equal(t, int64(5), snap.Amount.Int64(), "prior value served while revalidating")

	require.Eventually(t, func() bool {
		s := c.Peek(owner)
		return s.Amount != nil && s.Amount.Int64() == 3
	}, time.Second, time.Millisecond)
	reader.AssertNumberOfCalls(t, "BalanceOf", 2)
}

// movingReader holds its first read at the gate and answers with the
// amount it saw when the read started.
type movingReader struct {
	reads  atomic.Int32
	gate   chan struct{}
	amount atomic.Pointer[big.Int]
}

func (r *movingReader) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	v := r.amount.Load()
	if r.reads.Add(1) == 1 {
		<-r.gate
	}
	return v, nil
}

func TestInvalidateDuringRead(t *testing.T) {
	reader := &movingReader{gate: make(chan struct{})}
	reader.amount.Store(big.NewInt(5))
	c := New(Options{Reader: reader, Interval: time.Minute})

	first := make(chan models.BalanceSnapshot, 1)
	go func() {
		snap, _ := c.Refresh(context.Background(), owner)
		first <- snap
	}()
	require.Eventually(t, func() bool { return reader.reads.Load() == 1 }, time.Second, time.Millisecond)

	reader.amount.Store(big.NewInt(3))
	c.Invalidate(owner)
	close(reader.gate)
	assert.Equal(t, int64(5), (<-first).Amount.Int64())

	snap := c.Get(context.Background(), owner)
	assert.True(t, snap.Stale, "a read started before Invalidate is not fresh")

	require.Eventually(t, func() bool {
		s := c.Peek(owner)
		return s.Amount != nil && s.Amount.Int64() == 3 && !s.Stale
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), reader.reads.Load())
}

func TestGet_StaleAfterInterval(t *testing.T) {
	reader := &countingReader{amount: big.NewInt(1)}
	c := New(Options{Reader: reader, Interval: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Refresh(context.Background(), owner)
	require.NoError(t, err)
	assert.False(t, c.Get(context.Background(), owner).Stale)

	now = now.Add(2 * time.Minute)
	assert.True(t, c.Get(context.Background(), owner).Stale)
	require.Eventually(t, func() bool {
		return reader.reads.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestRefresh_FailureKeepsPrevious(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	reader := new(MockReader)
	reader.On("BalanceOf", owner).Return(big.NewInt(5), nil).Once()
	reader.On("BalanceOf", owner).Return(nil, errors.New("connection refused"))
	c := New(Options{Reader: reader, Bus: bus})

	_, err := c.Refresh(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, events.EventBalanceUpdated, (<-sub).Type)

	snap, err := c.Refresh(context.Background(), owner)
	assert.ErrorIs(t, err, errs.ErrBalanceUnavailable)
	assert.Equal(t, int64(5), snap.Amount.Int64())
	assert.True(t, snap.Stale)
	assert.Equal(t, events.EventBalanceUnavailable, (<-sub).Type)

	assert.Equal(t, int64(5), c.Peek(owner).Amount.Int64())
}

func TestRefresh_FailureWithoutPrevious(t *testing.T) {
	reader := new(MockReader)
	reader.On("BalanceOf", owner).Return(nil, errs.New(errs.WrongNetwork, "chain 1"))
	c := New(Options{Reader: reader})

	snap, err := c.Refresh(context.Background(), owner)
	assert.ErrorIs(t, err, errs.ErrBalanceUnavailable)
	assert.ErrorIs(t, err, errs.ErrWrongNetwork)
	assert.False(t, snap.Known())
	assert.Nil(t, snap.Amount)
}

func TestForgetAndReset(t *testing.T) {
	reader := new(MockReader)
	reader.On("BalanceOf", mock.Anything).Return(big.NewInt(1), nil)
	c := New(Options{Reader: reader})
	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	_, err := c.Refresh(context.Background(), owner)
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), other)
	require.NoError(t, err)
	assert.Len(t, c.Snapshots(), 2)

	c.Forget(owner)
	assert.False(t, c.Peek(owner).Known())
	assert.Len(t, c.Snapshots(), 1)

	c.Reset()
	assert.Empty(t, c.Snapshots())
}

func TestRun_ReactsToSession(t *testing.T) {
	bus := events.NewBus()
	reader := new(MockReader)
	reader.On("BalanceOf", owner).Return(big.NewInt(7), nil)
	c := New(Options{Reader: reader, Bus: bus, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Wait for Run to subscribe.
	require.Eventually(t, func() bool {
		bus.Publish(events.Event{Type: events.EventSessionChanged, Data: models.Session{State: models.Connected, WalletAddress: owner}})
		return c.Peek(owner).Known()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(7), c.Peek(owner).Amount.Int64())

	bus.Publish(events.Event{Type: events.EventSessionChanged, Data: models.Session{State: models.Disconnected}})
	require.Eventually(t, func() bool { return len(c.Snapshots()) == 0 }, time.Second, time.Millisecond)
}

func TestRun_PollsWhileConnected(t *testing.T) {
	reader := &countingReader{amount: big.NewInt(2)}
	c := New(Options{Reader: reader, Interval: 10 * time.Millisecond})
	c.Get(context.Background(), owner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return reader.reads.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
