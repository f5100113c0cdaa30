package setup

import (
	"time"

	"github.com/0xBitWishper/buybots/bot/chain"
)

// Step identifies the current prompt of a setup session.
type Step string

const (
	StepSelectNetwork    Step = "select_network"
	StepEnterToken       Step = "enter_token"
	StepChooseEmoji      Step = "choose_emoji"
	StepAwaitCustomEmoji Step = "await_custom_emoji"
	StepAwaitImage       Step = "await_image"
)

// Session is the in-memory state of one group's setup conversation. Only the
// finalize transition touches the persistent store; cancelling at any step
// leaves the stored config untouched.
type Session struct {
	GroupID int64
	// UserID is the operator driving the flow. Other users' inputs in the
	// same chat are ignored while the session is live.
	UserID    int64
	Admins    []int64
	Step      Step
	NetworkID string
	Token     *chain.TokenInfo
	Emojis    string
	ImageFile string
	StartedAt time.Time
}
