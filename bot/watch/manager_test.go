package watch

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
)

type fakeStream struct {
	address string

	mu     sync.Mutex
	closed bool
	events chan chain.TransferEvent
	errs   chan error
}

func newFakeStream(address string) *fakeStream {
	return &fakeStream{
		address: address,
		events:  make(chan chain.TransferEvent, 16),
		errs:    make(chan error, 1),
	}
}

func (s *fakeStream) Events() <-chan chain.TransferEvent { return s.events }
func (s *fakeStream) Err() <-chan error                  { return s.errs }

func (s *fakeStream) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	close(s.errs)
}

// Emit pushes an event unless the stream was already unsubscribed.
func (s *fakeStream) Emit(evt chain.TransferEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- evt
	return true
}

func (s *fakeStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.errs <- err
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeChain struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeChain) ResolveToken(ctx context.Context, networkID, address string) (chain.TokenInfo, error) {
	return chain.TokenInfo{Address: address, Symbol: "TKN", Decimals: 18}, nil
}

func (f *fakeChain) SubscribeTransfers(ctx context.Context, networkID, address string) (chain.Stream, error) {
	if networkID == "broken" {
		return nil, fmt.Errorf("chain: dial broken: refused")
	}
	s := newFakeStream(address)
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeChain) created() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []chain.TransferEvent
}

func (r *recordingSink) HandleTransfer(ctx context.Context, cfg store.GroupConfig, evt chain.TransferEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func configFor(groupID int64, network, address string) store.GroupConfig {
	return store.GroupConfig{
		GroupID:              groupID,
		NetworkID:            network,
		NotificationsEnabled: true,
		Token:                &store.TokenRef{Address: address, Symbol: "TKN", Decimals: 18},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestReconcileCreatesAndForwards(t *testing.T) {
	fc := &fakeChain{}
	sink := &recordingSink{}
	m := NewManager(fc, store.NewMemory(), sink)
	ctx := context.Background()

	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xaaa")))
	require.True(t, m.Active(1))

	streams := fc.created()
	require.Len(t, streams, 1)
	require.True(t, streams[0].Emit(chain.TransferEvent{Token: "0xaaa", Amount: big.NewInt(1)}))

	waitFor(t, func() bool { return sink.count() == 1 }, "event never reached the sink")
}

func TestReconcileReplaceTargetsNewToken(t *testing.T) {
	fc := &fakeChain{}
	sink := &recordingSink{}
	m := NewManager(fc, store.NewMemory(), sink)
	ctx := context.Background()

	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xold")))
	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xnew")))

	streams := fc.created()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Closed(), "old stream must be torn down before the new one runs")
	assert.False(t, streams[1].Closed())
	assert.Equal(t, 1, m.ActiveCount())

	// the old stream rejects emits after teardown; nothing leaks to the sink
	assert.False(t, streams[0].Emit(chain.TransferEvent{Token: "0xold"}))
	require.True(t, streams[1].Emit(chain.TransferEvent{Token: "0xnew"}))
	waitFor(t, func() bool { return sink.count() == 1 }, "new stream event missing")
}

func TestReconcileUnconfiguredTearsDown(t *testing.T) {
	fc := &fakeChain{}
	m := NewManager(fc, store.NewMemory(), &recordingSink{})
	ctx := context.Background()

	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xaaa")))
	require.True(t, m.Active(1))

	muted := configFor(1, "bsc", "0xaaa")
	muted.NotificationsEnabled = false
	require.NoError(t, m.Reconcile(ctx, 1, muted))

	assert.False(t, m.Active(1))
	assert.True(t, fc.created()[0].Closed())
}

func TestConcurrentReconcileSingleSurvivor(t *testing.T) {
	fc := &fakeChain{}
	m := NewManager(fc, store.NewMemory(), &recordingSink{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := configFor(7, "bsc", fmt.Sprintf("0xtoken%02d", i))
			_ = m.Reconcile(ctx, 7, cfg)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, m.ActiveCount(), "exactly one subscription must survive")
	open := 0
	for _, s := range fc.created() {
		if !s.Closed() {
			open++
		}
	}
	assert.Equal(t, 1, open, "every replaced stream must be unsubscribed")
}

func TestRestoreAllAggregatesFailures(t *testing.T) {
	fc := &fakeChain{}
	st := store.NewMemory()
	ctx := context.Background()

	for i, network := range []string{"bsc", "broken", "eth"} {
		gid := int64(i + 1)
		net := network
		_, err := st.Upsert(ctx, gid, func(c *store.GroupConfig) error {
			c.NetworkID = net
			c.Token = &store.TokenRef{Address: fmt.Sprintf("0xt%d", gid), Symbol: "TKN", Decimals: 18}
			return nil
		})
		require.NoError(t, err)
	}

	m := NewManager(fc, st, &recordingSink{})
	err := m.RestoreAll(ctx)
	require.Error(t, err, "the broken group must surface in the aggregate")
	assert.Equal(t, 2, m.ActiveCount(), "healthy groups restore despite the failure")

	// run again: replaces rather than duplicates
	err = m.RestoreAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, m.ActiveCount())
}

func TestStreamErrorDropsRegistration(t *testing.T) {
	fc := &fakeChain{}
	m := NewManager(fc, store.NewMemory(), &recordingSink{})
	ctx := context.Background()

	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xaaa")))
	fc.created()[0].Fail(fmt.Errorf("ws closed"))

	waitFor(t, func() bool { return !m.Active(1) }, "dead stream still registered")
}

func TestShutdownIsIdempotent(t *testing.T) {
	fc := &fakeChain{}
	m := NewManager(fc, store.NewMemory(), &recordingSink{})
	ctx := context.Background()

	m.Shutdown(ctx, 99) // nothing live: no-op

	require.NoError(t, m.Reconcile(ctx, 99, configFor(99, "bsc", "0xaaa")))
	m.Shutdown(ctx, 99)
	m.Shutdown(ctx, 99)
	assert.False(t, m.Active(99))
}

func TestShutdownAll(t *testing.T) {
	fc := &fakeChain{}
	m := NewManager(fc, store.NewMemory(), &recordingSink{})
	ctx := context.Background()

	require.NoError(t, m.Reconcile(ctx, 1, configFor(1, "bsc", "0xa")))
	require.NoError(t, m.Reconcile(ctx, 2, configFor(2, "eth", "0xb")))

	m.ShutdownAll(ctx)
	assert.Zero(t, m.ActiveCount())
	for _, s := range fc.created() {
		assert.True(t, s.Closed())
	}
}
