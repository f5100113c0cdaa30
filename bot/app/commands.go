package app

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/0xBitWishper/buybots/bot/setup"
	"github.com/0xBitWishper/buybots/bot/store"
	"github.com/0xBitWishper/buybots/core/logger"
	"github.com/0xBitWishper/buybots/core/telegram/commands"
	tghelpers "github.com/0xBitWishper/buybots/core/telegram/helpers"
)

func (a *App) registerCommands() {
	a.registry.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Welcome and quick start",
	})
	a.registry.RegisterCommand("/help", commands.Command{
		Handler:     a.handleHelp,
		Description: "List available commands",
	})
	a.registry.RegisterCommand("/setup", commands.Command{
		Handler:     a.handleSetup,
		Description: "Configure buy tracking for this group",
	})
	a.registry.RegisterCommand("/status", commands.Command{
		Handler:     a.handleStatus,
		Description: "Show the current tracking configuration",
	})
	a.registry.RegisterCommand("/stop", commands.Command{
		Handler:     a.handleStop,
		Description: "Disable buy notifications",
	})
	a.registry.RegisterCommand("/groups", commands.Command{
		Handler:     a.handleGroups,
		Description: "Operator overview of configured groups",
		AdminOnly:   true,
		Hidden:      true,
	})
}

func isGroupChat(c tele.Context) bool {
	chat := c.Chat()
	return chat != nil && (chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup)
}

func (a *App) handleStart(c tele.Context) error {
	if isGroupChat(c) {
		return tghelpers.SendHTML(c,
			"👋 BuyTracker is here!\n\n"+
				"A group admin can run /setup to start tracking token purchases.")
	}

	deepLink := a.cfg.Telegram.GroupDeepLink
	if deepLink == "" {
		if username := a.transport.BotUsername(); username != "" {
			deepLink = "https://t.me/" + username + "?startgroup=true"
		}
	}

	text := "🚀 <b>Welcome to BuyTracker Bot!</b> 🚀\n\n" +
		"I post a notification in your group every time someone buys your token.\n\n" +
		"1. Add me to your group\n" +
		"2. Make me an administrator\n" +
		"3. Run /setup in the group\n\n" +
		"Use /help to see all commands."

	if deepLink != "" {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.URL("➕ Add me to a group", deepLink)))
		return tghelpers.SendHTML(c, text, markup)
	}
	return tghelpers.SendHTML(c, text)
}

func (a *App) handleHelp(c tele.Context) error {
	return tghelpers.SendHTML(c,
		"📚 <b>BuyTracker Bot Commands</b>\n\n"+
			"/setup — configure buy tracking (group admins)\n"+
			"/status — show the current configuration\n"+
			"/stop — disable buy notifications (group admins)\n"+
			"/help — this message")
}

// handleSetup enforces the entry preconditions, then hands the conversation
// to the flow: group chat, bot is an admin, invoker is an admin.
func (a *App) handleSetup(c tele.Context) error {
	if !isGroupChat(c) {
		return tghelpers.SendHTML(c, "⚠️ /setup only works inside a group. Add me to your group first.")
	}
	ctx := tghelpers.BuildContext(c)
	chatID := c.Chat().ID

	botAdmin, err := a.transport.BotIsAdmin(ctx, chatID)
	if err != nil {
		logger.Setup.Warn("bot admin check failed",
			slog.Int64("group_id", chatID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendHTML(c, "⚠️ Could not verify my permissions. Try again in a moment.")
	}
	if !botAdmin {
		return tghelpers.SendHTML(c, "⚠️ I need to be a group administrator before setup can start.")
	}

	admins, err := a.transport.AdminsOf(ctx, chatID)
	if err != nil {
		logger.Setup.Warn("admin list fetch failed",
			slog.Int64("group_id", chatID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendHTML(c, "⚠️ Could not fetch the admin list. Try again in a moment.")
	}
	invoker := c.Sender().ID
	isAdmin := false
	for _, id := range admins {
		if id == invoker {
			isAdmin = true
			break
		}
	}
	if !isAdmin {
		return tghelpers.SendHTML(c, "🚫 Only group administrators can run setup.")
	}

	reply, err := a.flow.Begin(ctx, chatID, invoker, admins)
	if errors.Is(err, setup.ErrInProgress) {
		return tghelpers.SendHTML(c, "⏳ A setup session is already running in this group.")
	}
	if err != nil {
		return err
	}
	return sendReply(c, reply)
}

func (a *App) handleStatus(c tele.Context) error {
	if !isGroupChat(c) {
		return tghelpers.SendHTML(c, "⚠️ /status only works inside a group.")
	}
	ctx := tghelpers.BuildContext(c)
	chatID := c.Chat().ID

	cfg, err := a.store.Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !cfg.Configured()) {
		return tghelpers.SendHTML(c, "ℹ️ No token is tracked here yet. A group admin can run /setup.")
	}
	if err != nil {
		return err
	}

	network := cfg.NetworkID
	if n, ok := a.cfg.Network(cfg.NetworkID); ok {
		network = n.Name
	}
	state := "🔔 notifications on, subscription live"
	switch {
	case !cfg.NotificationsEnabled:
		state = "🔕 notifications disabled (/setup to re-enable)"
	case !a.manager.Active(chatID):
		state = "⚠️ notifications on, but the subscription is not live"
	}

	return tghelpers.SendHTML(c, fmt.Sprintf(
		"📊 <b>Tracking Status</b>\n\n"+
			"• Network: %s\n"+
			"• Token: %s (%s)\n"+
			"• Contract: <code>%s</code>\n"+
			"• Emojis: %s\n"+
			"• Since: %s\n"+
			"• %s",
		network,
		html.EscapeString(cfg.Token.Name), html.EscapeString(cfg.Token.Symbol),
		cfg.Token.Address,
		cfg.Emojis,
		cfg.Token.UpdatedAt.Format(time.DateOnly),
		state,
	))
}

// handleStop disables notifications but keeps the stored configuration, so
// a later /setup run starts from a known group.
func (a *App) handleStop(c tele.Context) error {
	if !isGroupChat(c) {
		return tghelpers.SendHTML(c, "⚠️ /stop only works inside a group.")
	}
	ctx := tghelpers.BuildContext(c)
	chatID := c.Chat().ID
	invoker := c.Sender().ID

	allowed, err := a.transport.IsChatAdmin(ctx, chatID, invoker)
	if err != nil {
		// API hiccup: fall back to the admin list captured at setup time
		if cfg, gerr := a.store.Get(ctx, chatID); gerr == nil {
			allowed = cfg.IsAdmin(invoker)
		}
	}
	if !allowed {
		return tghelpers.SendHTML(c, "🚫 Only group administrators can stop notifications.")
	}

	cfg, err := a.store.Upsert(ctx, chatID, func(gc *store.GroupConfig) error {
		if !gc.Configured() {
			return store.ErrNotFound
		}
		gc.NotificationsEnabled = false
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return tghelpers.SendHTML(c, "ℹ️ Nothing is tracked here yet.")
	}
	if err != nil {
		return err
	}

	a.manager.Shutdown(ctx, chatID)
	return tghelpers.SendHTML(c, fmt.Sprintf(
		"🔕 Buy notifications for <b>%s</b> are off.\nRun /setup to turn them back on.",
		html.EscapeString(cfg.Token.Symbol),
	))
}

// handleGroups is the hidden operator overview.
func (a *App) handleGroups(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	configs, err := a.store.ListWithToken(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗂 <b>Configured groups:</b> %d\n", len(configs))
	fmt.Fprintf(&b, "📡 <b>Live subscriptions:</b> %d\n\n", a.manager.ActiveCount())
	for _, cfg := range configs {
		live := "·"
		if a.manager.Active(cfg.GroupID) {
			live = "live"
		}
		fmt.Fprintf(&b, "<code>%d</code> %s %s [%s]\n",
			cfg.GroupID, html.EscapeString(cfg.Token.Symbol), cfg.NetworkID, live)
	}
	return tghelpers.SendHTML(c, b.String())
}

// handleFlowMessage feeds a text or photo update into the live session.
func (a *App) handleFlowMessage(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	chatID := c.Chat().ID

	in := setup.Input{Kind: setup.KindText, UserID: c.Sender().ID, Text: c.Text()}
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		in = setup.Input{Kind: setup.KindPhoto, UserID: c.Sender().ID, PhotoID: msg.Photo.FileID}
	}

	reply, err := a.flow.Advance(ctx, chatID, in)
	if errors.Is(err, setup.ErrNotOperator) || errors.Is(err, setup.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	return sendReply(c, reply)
}
