package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
// AdminOnly commands are restricted to the operator configured in telegram.admin_id.
// Hidden commands are omitted from the Telegram command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
}
