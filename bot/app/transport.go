package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/0xBitWishper/buybots/core/logger"
	"github.com/0xBitWishper/buybots/core/telegram/sender"
)

// ErrNotReady means the transport has no bot bound yet. Sends attempted
// before the Telegram runtime started fail fast with this error.
var ErrNotReady = errors.New("app: telegram transport not ready")

// Transport adapts the telebot runtime for the domain packages: outbound
// notification delivery plus the chat-administration lookups the setup flow
// needs. The bot instance is bound at runtime start.
type Transport struct {
	bot        atomic.Pointer[tele.Bot]
	dispatcher atomic.Pointer[sender.Dispatcher]
}

// NewTransport creates an unbound transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Bind attaches the live bot and the async sender. Called from the runtime's
// OnStart hook.
func (t *Transport) Bind(bot *tele.Bot, d *sender.Dispatcher) {
	t.bot.Store(bot)
	t.dispatcher.Store(d)
}

func (t *Transport) ready() (*tele.Bot, error) {
	bot := t.bot.Load()
	if bot == nil {
		return nil, ErrNotReady
	}
	return bot, nil
}

// send routes through the async dispatcher when available, falling back to a
// direct call when the queue is saturated or closed.
func (t *Transport) send(ctx context.Context, action string, run func() error) error {
	d := t.dispatcher.Load()
	if d == nil {
		return run()
	}
	if err := d.Enqueue(ctx, action, "sendMessage", run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.TG.Warn("notify queue fallback",
				slog.String("event", "queue.fallback"),
				slog.String("action", action),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendMessage delivers an HTML message to a chat.
func (t *Transport) SendMessage(ctx context.Context, chatID int64, htmlBody string) error {
	bot, err := t.ready()
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	return t.send(ctx, "notify.message", func() error {
		_, err := bot.Send(tele.ChatID(chatID), htmlBody, opts)
		return err
	})
}

// SendPhoto delivers a photo by file ID with an HTML caption.
func (t *Transport) SendPhoto(ctx context.Context, chatID int64, fileID, captionHTML string) error {
	bot, err := t.ready()
	if err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: captionHTML}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	return t.send(ctx, "notify.photo", func() error {
		_, err := bot.Send(tele.ChatID(chatID), photo, opts)
		return err
	})
}

// AdminsOf returns the user IDs of the chat's administrators.
func (t *Transport) AdminsOf(ctx context.Context, chatID int64) ([]int64, error) {
	bot, err := t.ready()
	if err != nil {
		return nil, err
	}
	members, err := bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return nil, fmt.Errorf("app: admins of %d: %w", chatID, err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.User != nil {
			ids = append(ids, m.User.ID)
		}
	}
	return ids, nil
}

// IsChatAdmin reports whether the user administers the chat right now.
func (t *Transport) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	ids, err := t.AdminsOf(ctx, chatID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// BotIsAdmin reports whether the bot itself administers the chat.
func (t *Transport) BotIsAdmin(ctx context.Context, chatID int64) (bool, error) {
	bot, err := t.ready()
	if err != nil {
		return false, err
	}
	member, err := bot.ChatMemberOf(&tele.Chat{ID: chatID}, bot.Me)
	if err != nil {
		return false, fmt.Errorf("app: bot membership in %d: %w", chatID, err)
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator, nil
}

// BotUsername returns the bot's Telegram username, empty before binding.
func (t *Transport) BotUsername() string {
	bot := t.bot.Load()
	if bot == nil || bot.Me == nil {
		return ""
	}
	return bot.Me.Username
}
