package notify

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"log/slog"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
	"github.com/0xBitWishper/buybots/core/logger"
)

// Messenger delivers rendered notifications to a chat. Implementations
// translate transport failures into errors; the notifier logs and moves on.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, htmlBody string) error
	SendPhoto(ctx context.Context, chatID int64, fileID, captionHTML string) error
}

// Notifier classifies transfer events and dispatches purchase notifications.
// Events are independent: a failed send is logged and dropped, never retried.
type Notifier struct {
	messenger Messenger
	routers   map[string]map[string]struct{}
	explorers map[string]string
	precision int32
}

// New builds a notifier from the configured networks. Router addresses are
// already lowercased by config normalization.
func New(networks []coreconfig.NetworkConfig, cfg coreconfig.NotifyConfig, m Messenger) *Notifier {
	routers := make(map[string]map[string]struct{}, len(networks))
	explorers := make(map[string]string, len(networks))
	for _, n := range networks {
		set := make(map[string]struct{}, len(n.Routers))
		for _, r := range n.Routers {
			set[r] = struct{}{}
		}
		routers[n.ID] = set
		explorers[n.ID] = n.ExplorerTxURL
	}
	return &Notifier{
		messenger: m,
		routers:   routers,
		explorers: explorers,
		precision: int32(cfg.AmountPrecision),
	}
}

// IsPurchase reports whether a transfer qualifies as a purchase: the sender
// must be a known exchange router on the event's network.
func (n *Notifier) IsPurchase(evt chain.TransferEvent) bool {
	set, ok := n.routers[evt.NetworkID]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(evt.From)]
	return ok
}

// HandleTransfer implements watch.Sink. Non-qualifying transfers are dropped
// silently; qualifying ones are rendered and sent to the group.
func (n *Notifier) HandleTransfer(ctx context.Context, cfg store.GroupConfig, evt chain.TransferEvent) {
	if !cfg.Configured() || !cfg.NotificationsEnabled {
		return
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return
	}
	if !n.IsPurchase(evt) {
		if logger.ShouldSampleDebug() {
			logger.Notify.Debug("transfer dropped",
				slog.String("event", "classify"),
				slog.Int64("group_id", cfg.GroupID),
				slog.String("network", evt.NetworkID),
				slog.String("address", evt.From),
				slog.String("tx", evt.TxHash),
			)
		}
		return
	}
	n.send(ctx, cfg, evt, false)
}

// SendSample pushes a marked sample purchase through the real formatting and
// delivery path. Used by the post-setup "sample notification" action.
func (n *Notifier) SendSample(ctx context.Context, cfg store.GroupConfig) error {
	if !cfg.Configured() {
		return fmt.Errorf("notify: group %d has no tracked token", cfg.GroupID)
	}
	amount := sampleAmount(cfg.Token.Decimals)
	evt := chain.TransferEvent{
		NetworkID: cfg.NetworkID,
		Token:     cfg.Token.Address,
		From:      "0x0000000000000000000000000000000000000000",
		To:        "0x000000000000000000000000000000000000dead",
		Amount:    amount,
		TxHash:    "0x" + strings.Repeat("0", 64),
	}
	return n.send(ctx, cfg, evt, true)
}

func (n *Notifier) send(ctx context.Context, cfg store.GroupConfig, evt chain.TransferEvent, sample bool) error {
	caption := BuildCaption(cfg, evt, n.explorers[evt.NetworkID], n.precision, sample)

	var err error
	if cfg.ImageFileID != "" {
		err = n.messenger.SendPhoto(ctx, cfg.GroupID, cfg.ImageFileID, caption)
	} else {
		err = n.messenger.SendMessage(ctx, cfg.GroupID, caption)
	}
	if err != nil {
		logger.Notify.Error("notification send failed",
			slog.Int64("group_id", cfg.GroupID),
			slog.String("network", evt.NetworkID),
			slog.String("tx", evt.TxHash),
			slog.String("err", err.Error()),
		)
		return err
	}

	logger.Notify.Info("purchase notified",
		slog.Int64("group_id", cfg.GroupID),
		slog.String("network", evt.NetworkID),
		slog.String("symbol", cfg.Token.Symbol),
		slog.String("tx", evt.TxHash),
		slog.String("amount", FormatAmount(evt.Amount, cfg.Token.Decimals, n.precision)),
		slog.Bool("sample", sample),
	)
	return nil
}

// sampleAmount is 12345.6789 scaled to the token's decimals, clamped for
// tokens with fewer than four decimals.
func sampleAmount(decimals uint8) *big.Int {
	shift := int(decimals) - 4
	v := big.NewInt(123456789)
	if shift < 0 {
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil)
		return v.Div(v, div)
	}
	mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil)
	return v.Mul(v, mul)
}
