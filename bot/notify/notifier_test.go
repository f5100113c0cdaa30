package notify

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
)

type sent struct {
	chatID  int64
	fileID  string
	body    string
	isPhoto bool
}

type fakeMessenger struct {
	mu   sync.Mutex
	msgs []sent
	fail error
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, sent{chatID: chatID, body: htmlBody})
	return nil
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, fileID, captionHTML string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, sent{chatID: chatID, fileID: fileID, body: captionHTML, isPhoto: true})
	return nil
}

func (f *fakeMessenger) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

var testNetworks = []coreconfig.NetworkConfig{
	{
		ID:            "bsc",
		Name:          "BNB Chain",
		RPCURL:        "wss://example",
		ExplorerTxURL: "https://bscscan.com/tx/",
		Routers:       []string{"0x10ed43c718714eb63d5aa57b78b54704e256024e"},
	},
}

func testGroup() store.GroupConfig {
	return store.GroupConfig{
		GroupID:              -100,
		NetworkID:            "bsc",
		NotificationsEnabled: true,
		Emojis:               "🚀 🌕 💰",
		Token: &store.TokenRef{
			Address:  "0xabc",
			Name:     "Test Token",
			Symbol:   "TST",
			Decimals: 18,
		},
	}
}

func purchaseEvent(amount *big.Int) chain.TransferEvent {
	return chain.TransferEvent{
		NetworkID: "bsc",
		Token:     "0xabc",
		From:      "0x10ed43c718714eb63d5aa57b78b54704e256024e",
		To:        "0x1234567890abcdef1234567890abcdef12345678",
		Amount:    amount,
		TxHash:    "0xdeadbeef",
	}
}

func TestFormatAmountExact(t *testing.T) {
	amount := new(big.Int)
	amount.SetString("1234500000000000000", 10)
	assert.Equal(t, "1.2345", FormatAmount(amount, 18, 4))

	assert.Equal(t, "0.0000", FormatAmount(big.NewInt(1), 18, 4))
	assert.Equal(t, "1234.50", FormatAmount(big.NewInt(123450), 2, 2))
	assert.Equal(t, "0.0000", FormatAmount(nil, 18, 4))
}

func TestClassifyRouterAllowList(t *testing.T) {
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, &fakeMessenger{})

	evt := purchaseEvent(big.NewInt(1))
	assert.True(t, n.IsPurchase(evt))

	// classification is case-insensitive on the from address
	evt.From = "0x10ED43C718714eb63d5aA57B78B54704E256024E"
	assert.True(t, n.IsPurchase(evt))

	evt.From = "0x1111111111111111111111111111111111111111"
	assert.False(t, n.IsPurchase(evt))

	evt = purchaseEvent(big.NewInt(1))
	evt.NetworkID = "unknown"
	assert.False(t, n.IsPurchase(evt))
}

func TestHandleTransferSendsPurchase(t *testing.T) {
	fm := &fakeMessenger{}
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, fm)

	amount := new(big.Int)
	amount.SetString("1234500000000000000", 10)
	n.HandleTransfer(context.Background(), testGroup(), purchaseEvent(amount))

	msgs := fm.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(-100), msgs[0].chatID)
	assert.False(t, msgs[0].isPhoto)
	assert.Contains(t, msgs[0].body, "NEW BUY")
	assert.NotContains(t, msgs[0].body, "SAMPLE")
	assert.Contains(t, msgs[0].body, "1.2345 TST")
	assert.Contains(t, msgs[0].body, "https://bscscan.com/tx/0xdeadbeef")
	assert.Contains(t, msgs[0].body, "0x1234…5678", "buyer address must be elided")
	assert.Contains(t, msgs[0].body, "🚀 🌕 💰")
}

func TestHandleTransferDrops(t *testing.T) {
	fm := &fakeMessenger{}
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, fm)
	ctx := context.Background()

	// wallet-to-wallet transfer: silent drop
	evt := purchaseEvent(big.NewInt(10))
	evt.From = "0x2222222222222222222222222222222222222222"
	n.HandleTransfer(ctx, testGroup(), evt)

	// zero amount
	n.HandleTransfer(ctx, testGroup(), purchaseEvent(big.NewInt(0)))

	// notifications disabled
	muted := testGroup()
	muted.NotificationsEnabled = false
	n.HandleTransfer(ctx, muted, purchaseEvent(big.NewInt(10)))

	assert.Empty(t, fm.all())
}

func TestHandleTransferUsesPhotoWhenConfigured(t *testing.T) {
	fm := &fakeMessenger{}
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, fm)

	cfg := testGroup()
	cfg.ImageFileID = "file123"
	n.HandleTransfer(context.Background(), cfg, purchaseEvent(big.NewInt(10)))

	msgs := fm.all()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].isPhoto)
	assert.Equal(t, "file123", msgs[0].fileID)
}

func TestHandleTransferSendFailureIsSwallowed(t *testing.T) {
	fm := &fakeMessenger{fail: errors.New("telegram: 403")}
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, fm)

	// must not panic or retry; just logs
	n.HandleTransfer(context.Background(), testGroup(), purchaseEvent(big.NewInt(10)))
	assert.Empty(t, fm.all())
}

func TestSendSampleIsMarked(t *testing.T) {
	fm := &fakeMessenger{}
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, fm)

	require.NoError(t, n.SendSample(context.Background(), testGroup()))

	msgs := fm.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "(SAMPLE)")
	assert.Contains(t, msgs[0].body, "12345.6789 TST")
}

func TestSendSampleRequiresToken(t *testing.T) {
	n := New(testNetworks, coreconfig.NotifyConfig{AmountPrecision: 4}, &fakeMessenger{})
	cfg := testGroup()
	cfg.Token = nil
	require.Error(t, n.SendSample(context.Background(), cfg))
}

func TestCaptionEscapesTokenMetadata(t *testing.T) {
	cfg := testGroup()
	cfg.Token.Name = "<script>alert(1)</script>"
	caption := BuildCaption(cfg, purchaseEvent(big.NewInt(10)), "https://x/tx/", 4, false)
	assert.NotContains(t, caption, "<script>")
	assert.True(t, strings.Contains(caption, "&lt;script&gt;"))
}
