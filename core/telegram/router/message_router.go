package router

import (
	"time"

	tg "github.com/0xBitWishper/buybots/core/telegram"
	"github.com/0xBitWishper/buybots/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Flow defines the minimal interface for an in-progress conversational flow.
// Sessions are scoped to the chat the flow was started in.
type Flow interface {
	InProgress(chatID int64) bool
	FlowHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/photo updates.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownPhoto tele.HandlerFunc
}

// TextRoutes builds handlers for text and photo routing. Text updates go to
// the active flow first, then to command lookup, then to the fallback chain.
func TextRoutes(flow Flow, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if flow != nil && c.Chat() != nil && flow.InProgress(c.Chat().ID) {
			return handleWithSummary(c, "flow", start, "", "", func() error {
				return flow.FlowHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	photoHandler := func(c tele.Context) error {
		start := time.Now()
		if flow != nil && c.Chat() != nil && flow.InProgress(c.Chat().ID) {
			return handleWithSummary(c, "flow_photo", start, "", "", func() error {
				return flow.FlowHandler(c)
			})
		}
		if opts.UnknownPhoto != nil {
			return handleWithSummary(c, "unexpected_photo", start, "", "", func() error {
				return opts.UnknownPhoto(c)
			})
		}
		logHandlerSummary(c, "unexpected_photo", start, "skip", "ok", nil)
		return nil
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
		{
			Endpoint: tele.OnPhoto,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(photoHandler)),
		},
	}
}
