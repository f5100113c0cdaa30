package app

import (
	tele "gopkg.in/telebot.v4"

	"github.com/0xBitWishper/buybots/bot/setup"
	tghelpers "github.com/0xBitWishper/buybots/core/telegram/helpers"
	"github.com/0xBitWishper/buybots/core/telegram/keyboard"
)

// markupFor converts flow button descriptors into an inline keyboard.
func markupFor(buttons [][]setup.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]keyboard.InlineBtn, 0, len(buttons))
	for _, row := range buttons {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Label, Unique: b.Action, Data: b.Data})
		}
		rows = append(rows, r)
	}
	return keyboard.InlineButtonsRows(rows...)
}

// sendReply renders a flow reply as a new message.
func sendReply(c tele.Context, reply setup.Reply) error {
	markup := markupFor(reply.Buttons)
	if markup != nil {
		return tghelpers.SendHTML(c, reply.Text, markup)
	}
	return tghelpers.SendHTML(c, reply.Text)
}

// editReply renders a flow reply by editing the callback message, falling
// back to a fresh send for replies to text or photo input.
func editReply(c tele.Context, reply setup.Reply) error {
	markup := markupFor(reply.Buttons)
	if c.Callback() == nil {
		return sendReply(c, reply)
	}
	if markup != nil {
		return tghelpers.EditOrSendHTML(c, reply.Text, markup)
	}
	return tghelpers.EditOrSendHTML(c, reply.Text)
}
