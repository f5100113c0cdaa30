package app

import (
	"errors"

	tele "gopkg.in/telebot.v4"

	"github.com/0xBitWishper/buybots/bot/setup"
	"github.com/0xBitWishper/buybots/bot/store"
	"github.com/0xBitWishper/buybots/core/telegram/callbacks"
	tghelpers "github.com/0xBitWishper/buybots/core/telegram/helpers"
)

func (a *App) registerCallbacks() {
	for _, action := range []string{
		setup.ActionNetwork,
		setup.ActionEmoji,
		setup.ActionImageSkip,
		setup.ActionCancel,
		setup.ActionRetry,
	} {
		key := action
		_ = a.registry.RegisterCallback(key, func(c tele.Context) error {
			return a.handleFlowCallback(c, key)
		})
	}
	_ = a.registry.RegisterCallback(setup.ActionSample, a.handleSampleCallback)
}

func (a *App) handleFlowCallback(c tele.Context, action string) error {
	if c.Chat() == nil || c.Sender() == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)

	in := setup.Input{
		Kind:    setup.KindCallback,
		UserID:  c.Sender().ID,
		Action:  action,
		Payload: callbacks.CallbackPayload(c),
	}
	reply, err := a.flow.Advance(ctx, c.Chat().ID, in)
	switch {
	case errors.Is(err, setup.ErrNoSession):
		return tghelpers.SendHTML(c, "ℹ️ This setup session has ended. Run /setup to start over.")
	case errors.Is(err, setup.ErrNotOperator):
		return nil
	case err != nil:
		return err
	}
	return editReply(c, reply)
}

// handleSampleCallback pushes a marked sample purchase through the real
// notification path. Offered on the setup completion message.
func (a *App) handleSampleCallback(c tele.Context) error {
	if c.Chat() == nil || c.Sender() == nil {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	chatID := c.Chat().ID

	cfg, err := a.store.Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !cfg.Configured()) {
		return tghelpers.SendHTML(c, "ℹ️ Nothing is tracked here yet. Run /setup first.")
	}
	if err != nil {
		return err
	}
	if !cfg.IsAdmin(c.Sender().ID) {
		return nil
	}
	if err := a.notifier.SendSample(ctx, cfg); err != nil {
		return tghelpers.SendHTML(c, "⚠️ Could not send the sample notification.")
	}
	return nil
}
