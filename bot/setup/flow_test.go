package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
)

type resolverFunc func(ctx context.Context, networkID, address string) (chain.TokenInfo, error)

type fakeResolver struct {
	resolve resolverFunc
}

func (f *fakeResolver) ResolveToken(ctx context.Context, networkID, address string) (chain.TokenInfo, error) {
	return f.resolve(ctx, networkID, address)
}

func (f *fakeResolver) SubscribeTransfers(ctx context.Context, networkID, address string) (chain.Stream, error) {
	return nil, errors.New("not used in setup tests")
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []store.GroupConfig
	fail  error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, groupID int64, cfg store.GroupConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls = append(f.calls, cfg)
	return nil
}

var flowNetworks = []coreconfig.NetworkConfig{
	{ID: "bsc", Name: "BNB Chain", RPCURL: "wss://x", ExplorerTxURL: "https://bscscan.com/tx/"},
	{ID: "eth", Name: "Ethereum", RPCURL: "wss://y", ExplorerTxURL: "https://etherscan.io/tx/"},
}

func okResolver() *fakeResolver {
	return &fakeResolver{resolve: func(ctx context.Context, networkID, address string) (chain.TokenInfo, error) {
		if !strings.HasPrefix(address, "0x") {
			return chain.TokenInfo{}, fmt.Errorf("%w: %q", chain.ErrBadAddress, address)
		}
		return chain.TokenInfo{Address: address, Name: "Test Token", Symbol: "TST", Decimals: 18}, nil
	}}
}

func newFlow(st store.Store, r *fakeReconciler, res *fakeResolver) *Flow {
	return NewFlow(st, res, r, flowNetworks)
}

const (
	gid      = int64(-100900)
	operator = int64(555)
)

func begin(t *testing.T, f *Flow) {
	t.Helper()
	reply, err := f.Begin(context.Background(), gid, operator, []int64{operator, 777})
	require.NoError(t, err)
	require.Contains(t, reply.Text, "Select Network")
}

func callback(action, payload string) Input {
	return Input{Kind: KindCallback, UserID: operator, Action: action, Payload: payload}
}

func text(s string) Input {
	return Input{Kind: KindText, UserID: operator, Text: s}
}

func TestHappyPathPresetEmojisWithImage(t *testing.T) {
	st := store.NewMemory()
	rec := &fakeReconciler{}
	f := newFlow(st, rec, okResolver())
	ctx := context.Background()

	begin(t, f)

	reply, err := f.Advance(ctx, gid, callback(ActionNetwork, "bsc"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Token Address")

	// mixed-case input must be canonicalized
	reply, err = f.Advance(ctx, gid, text("  0xAbCdEF0123456789abcdef0123456789ABCDEF01 "))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Test Token")
	assert.Contains(t, reply.Text, "Select Emojis")

	reply, err = f.Advance(ctx, gid, callback(ActionEmoji, "set2"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, EmojiPresets["set2"])

	reply, err = f.Advance(ctx, gid, Input{Kind: KindPhoto, UserID: operator, PhotoID: "photo123"})
	require.NoError(t, err)
	assert.True(t, reply.Done)
	assert.Contains(t, reply.Text, "Setup Complete")
	assert.False(t, f.InProgress(gid))

	cfg, err := st.Get(ctx, gid)
	require.NoError(t, err)
	require.NotNil(t, cfg.Token)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", cfg.Token.Address)
	assert.Equal(t, "TST", cfg.Token.Symbol)
	assert.Equal(t, uint8(18), cfg.Token.Decimals)
	assert.Equal(t, "bsc", cfg.NetworkID)
	assert.Equal(t, EmojiPresets["set2"], cfg.Emojis)
	assert.Equal(t, "photo123", cfg.ImageFileID)
	assert.True(t, cfg.NotificationsEnabled)
	assert.ElementsMatch(t, []int64{operator, 777}, cfg.Admins)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.calls, 1)
	assert.Equal(t, gid, rec.calls[0].GroupID)
}

func TestCustomEmojisBoundedToThree(t *testing.T) {
	st := store.NewMemory()
	f := newFlow(st, &fakeReconciler{}, okResolver())
	ctx := context.Background()

	begin(t, f)
	_, err := f.Advance(ctx, gid, callback(ActionNetwork, "eth"))
	require.NoError(t, err)
	_, err = f.Advance(ctx, gid, text("0xabc0000000000000000000000000000000000abc"))
	require.NoError(t, err)

	reply, err := f.Advance(ctx, gid, callback(ActionEmoji, "custom"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Custom Emojis")

	_, err = f.Advance(ctx, gid, text("🔥 💎 🚀 🌕 💰"))
	require.NoError(t, err)

	reply, err = f.Advance(ctx, gid, callback(ActionImageSkip, ""))
	require.NoError(t, err)
	require.True(t, reply.Done)

	cfg, err := st.Get(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "🔥 💎 🚀", cfg.Emojis, "custom emojis are capped at three")
	assert.Empty(t, cfg.ImageFileID)
}

func TestCancelLeavesConfigUntouched(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	// previously configured group
	_, err := st.Upsert(ctx, gid, func(c *store.GroupConfig) error {
		c.NetworkID = "bsc"
		c.Token = &store.TokenRef{Address: "0xold", Symbol: "OLD", Decimals: 9}
		c.Emojis = "🐂"
		return nil
	})
	require.NoError(t, err)

	f := newFlow(st, &fakeReconciler{}, okResolver())
	begin(t, f)
	_, err = f.Advance(ctx, gid, callback(ActionNetwork, "eth"))
	require.NoError(t, err)
	_, err = f.Advance(ctx, gid, text("0xabc0000000000000000000000000000000000abc"))
	require.NoError(t, err)

	reply, err := f.Advance(ctx, gid, callback(ActionCancel, ""))
	require.NoError(t, err)
	assert.True(t, reply.Done)
	assert.False(t, f.InProgress(gid))

	cfg, err := st.Get(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "bsc", cfg.NetworkID)
	assert.Equal(t, "0xold", cfg.Token.Address)
	assert.Equal(t, "🐂", cfg.Emojis)
}

func TestResolutionFailureStaysOnStep(t *testing.T) {
	attempts := 0
	res := &fakeResolver{resolve: func(ctx context.Context, networkID, address string) (chain.TokenInfo, error) {
		attempts++
		if attempts == 1 {
			return chain.TokenInfo{}, chain.ErrNotToken
		}
		return chain.TokenInfo{Address: address, Name: "Late Token", Symbol: "LT", Decimals: 6}, nil
	}}
	f := newFlow(store.NewMemory(), &fakeReconciler{}, res)
	ctx := context.Background()

	begin(t, f)
	_, err := f.Advance(ctx, gid, callback(ActionNetwork, "bsc"))
	require.NoError(t, err)

	reply, err := f.Advance(ctx, gid, text("0xdead000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Could not verify")

	step, ok := f.Step(gid)
	require.True(t, ok)
	assert.Equal(t, StepEnterToken, step, "failed resolution must not advance")

	reply, err = f.Advance(ctx, gid, text("0xdead000000000000000000000000000000000001"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Late Token")
}

func TestBadAddressMessage(t *testing.T) {
	f := newFlow(store.NewMemory(), &fakeReconciler{}, okResolver())
	ctx := context.Background()

	begin(t, f)
	_, err := f.Advance(ctx, gid, callback(ActionNetwork, "bsc"))
	require.NoError(t, err)

	reply, err := f.Advance(ctx, gid, text("not-an-address"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "valid contract address")
}

func TestDoubleBeginRejected(t *testing.T) {
	f := newFlow(store.NewMemory(), &fakeReconciler{}, okResolver())
	begin(t, f)
	_, err := f.Begin(context.Background(), gid, operator, nil)
	require.ErrorIs(t, err, ErrInProgress)
}

func TestNonOperatorInputIgnored(t *testing.T) {
	f := newFlow(store.NewMemory(), &fakeReconciler{}, okResolver())
	ctx := context.Background()

	begin(t, f)
	in := callback(ActionNetwork, "bsc")
	in.UserID = 9999
	_, err := f.Advance(ctx, gid, in)
	require.ErrorIs(t, err, ErrNotOperator)

	step, ok := f.Step(gid)
	require.True(t, ok)
	assert.Equal(t, StepSelectNetwork, step)
}

func TestAdvanceWithoutSession(t *testing.T) {
	f := newFlow(store.NewMemory(), &fakeReconciler{}, okResolver())
	_, err := f.Advance(context.Background(), gid, text("anything"))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestReconcileFailureStillPersists(t *testing.T) {
	st := store.NewMemory()
	rec := &fakeReconciler{fail: errors.New("ws refused")}
	f := newFlow(st, rec, okResolver())
	ctx := context.Background()

	begin(t, f)
	_, err := f.Advance(ctx, gid, callback(ActionNetwork, "bsc"))
	require.NoError(t, err)
	_, err = f.Advance(ctx, gid, text("0xabc0000000000000000000000000000000000abc"))
	require.NoError(t, err)
	_, err = f.Advance(ctx, gid, callback(ActionEmoji, "set1"))
	require.NoError(t, err)

	reply, err := f.Advance(ctx, gid, callback(ActionImageSkip, ""))
	require.NoError(t, err)
	assert.True(t, reply.Done)
	assert.Contains(t, reply.Text, "subscription could not be started")

	cfg, err := st.Get(ctx, gid)
	require.NoError(t, err)
	assert.True(t, cfg.Configured(), "config persists even when the subscription fails")
}

func TestUnknownNetworkRepeatsPrompt(t *testing.T) {
	f := newFlow(store.NewMemory(), &fakeReconciler{}, okResolver())
	ctx := context.Background()

	begin(t, f)
	reply, err := f.Advance(ctx, gid, callback(ActionNetwork, "solana"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Select Network")

	step, _ := f.Step(gid)
	assert.Equal(t, StepSelectNetwork, step)
}

func TestGroupsAdvanceIndependently(t *testing.T) {
	st := store.NewMemory()
	rec := &fakeReconciler{}

	resolving := make(chan struct{})
	release := make(chan struct{})
	res := &fakeResolver{resolve: func(ctx context.Context, networkID, address string) (chain.TokenInfo, error) {
		if address == "0xslow" {
			close(resolving)
			<-release
		}
		return chain.TokenInfo{Address: address, Name: "Test Token", Symbol: "TST", Decimals: 18}, nil
	}}
	f := newFlow(st, rec, res)

	slowGroup := int64(-100901)
	ctx := context.Background()
	_, err := f.Begin(ctx, slowGroup, operator, []int64{operator})
	require.NoError(t, err)
	_, err = f.Advance(ctx, slowGroup, callback(ActionNetwork, "bsc"))
	require.NoError(t, err)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = f.Advance(ctx, slowGroup, text("0xslow"))
	}()
	<-resolving

	// While the first group's resolution is parked, a second group must be
	// able to run its whole wizard.
	finished := make(chan error, 1)
	go func() {
		if _, err := f.Begin(ctx, gid, operator, []int64{operator}); err != nil {
			finished <- err
			return
		}
		for _, in := range []Input{
			callback(ActionNetwork, "eth"),
			text("0xfast"),
			callback(ActionEmoji, "set2"),
			callback(ActionImageSkip, ""),
		} {
			if _, err := f.Advance(ctx, gid, in); err != nil {
				finished <- err
				return
			}
		}
		finished <- nil
	}()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second group's setup blocked behind the first group's token resolution")
	}

	close(release)
	<-slowDone

	cfg, err := st.Get(ctx, gid)
	require.NoError(t, err)
	require.NotNil(t, cfg.Token)
	assert.Equal(t, "0xfast", cfg.Token.Address)
}
