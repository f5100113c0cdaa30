package setup

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
	"github.com/0xBitWishper/buybots/core/logger"
)

var (
	// ErrNoSession means no setup is in progress for the group.
	ErrNoSession = errors.New("setup: no session in progress")
	// ErrInProgress means a setup session already exists for the group.
	ErrInProgress = errors.New("setup: session already in progress")
	// ErrNotOperator means the input came from a user other than the one
	// who started the flow.
	ErrNotOperator = errors.New("setup: input from non-operator ignored")
)

// Callback action keys shared with the transport binding.
const (
	ActionNetwork   = "setup_network"
	ActionEmoji     = "setup_emoji"
	ActionImageSkip = "setup_image_skip"
	ActionCancel    = "setup_cancel"
	ActionRetry     = "setup_retry"
	ActionSample    = "setup_sample"
)

// EmojiPresets mirrors the preset keyboard, keyed by callback payload.
var EmojiPresets = map[string]string{
	"set1": "🚀 🌕 💰",
	"set2": "💎 🔥 💸",
	"set3": "🐂 📈 💵",
	"set4": "🌟 ✨ 💹",
}

const maxCustomEmojis = 3

// InputKind discriminates the transport-free input variants.
type InputKind int

const (
	KindText InputKind = iota
	KindCallback
	KindPhoto
)

// Input is one user action fed into the flow. Callback inputs carry the
// action key and payload; text and photo inputs carry their content.
type Input struct {
	Kind    InputKind
	UserID  int64
	Text    string
	Action  string
	Payload string
	PhotoID string
}

// Button describes one inline keyboard button for the transport to render.
type Button struct {
	Label  string
	Action string
	Data   string
}

// Reply is what the transport should present after a transition.
type Reply struct {
	Text    string
	Buttons [][]Button
	// Done marks a terminal transition: the session no longer exists.
	Done bool
}

// Reconciler is the subscription-manager hook called on finalize.
type Reconciler interface {
	Reconcile(ctx context.Context, groupID int64, cfg store.GroupConfig) error
}

// Flow owns all live setup sessions, keyed by group ID. One session per
// group. Transitions serialize on a per-group lock so one group's slow
// token resolution or finalize never blocks another group's wizard; the
// flow mutex only guards the registry maps.
type Flow struct {
	store    store.Store
	chain    chain.Client
	watcher  Reconciler
	networks []coreconfig.NetworkConfig

	mu       sync.Mutex
	locks    map[int64]*sync.Mutex
	sessions map[int64]*Session
}

// NewFlow wires the setup state machine.
func NewFlow(st store.Store, cl chain.Client, w Reconciler, networks []coreconfig.NetworkConfig) *Flow {
	return &Flow{
		store:    st,
		chain:    cl,
		watcher:  w,
		networks: networks,
		locks:    make(map[int64]*sync.Mutex),
		sessions: make(map[int64]*Session),
	}
}

func (f *Flow) groupLock(groupID int64) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[groupID] = l
	}
	return l
}

func (f *Flow) session(groupID int64) (*Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[groupID]
	return s, ok
}

func (f *Flow) removeSession(groupID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, groupID)
}

// InProgress reports whether the group has a live session.
func (f *Flow) InProgress(groupID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[groupID]
	return ok
}

// Begin starts a session for the group. The transport has already verified
// the entry preconditions (group chat, bot is admin, invoker is admin).
func (f *Flow) Begin(ctx context.Context, groupID, userID int64, admins []int64) (Reply, error) {
	l := f.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions[groupID]; ok {
		return Reply{}, ErrInProgress
	}
	f.sessions[groupID] = &Session{
		GroupID:   groupID,
		UserID:    userID,
		Admins:    append([]int64(nil), admins...),
		Step:      StepSelectNetwork,
		StartedAt: time.Now().UTC(),
	}

	logger.Setup.Info("session started",
		slog.String("event", "begin"),
		slog.Int64("group_id", groupID),
	)
	return f.networkPrompt(), nil
}

// Advance feeds one input into the group's session and returns the next
// prompt. Inputs from users other than the operator return ErrNotOperator
// and leave the session unchanged.
func (f *Flow) Advance(ctx context.Context, groupID int64, in Input) (Reply, error) {
	l := f.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	s, ok := f.session(groupID)
	if !ok {
		return Reply{}, ErrNoSession
	}
	if in.UserID != 0 && in.UserID != s.UserID {
		return Reply{}, ErrNotOperator
	}

	if in.Kind == KindCallback && in.Action == ActionCancel {
		return f.cancelSession(s), nil
	}

	switch s.Step {
	case StepSelectNetwork:
		return f.stepSelectNetwork(s, in)
	case StepEnterToken:
		return f.stepEnterToken(ctx, s, in)
	case StepChooseEmoji:
		return f.stepChooseEmoji(s, in)
	case StepAwaitCustomEmoji:
		return f.stepCustomEmoji(s, in)
	case StepAwaitImage:
		return f.stepAwaitImage(ctx, s, in)
	}
	return Reply{}, fmt.Errorf("setup: unknown step %q", s.Step)
}

// Cancel aborts the group's session, leaving any stored config untouched.
func (f *Flow) Cancel(ctx context.Context, groupID int64) (Reply, error) {
	l := f.groupLock(groupID)
	l.Lock()
	defer l.Unlock()
	s, ok := f.session(groupID)
	if !ok {
		return Reply{}, ErrNoSession
	}
	return f.cancelSession(s), nil
}

// Step returns the current step for diagnostics.
func (f *Flow) Step(groupID int64) (Step, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[groupID]
	if !ok {
		return "", false
	}
	return s.Step, true
}

// cancelSession drops the session. Caller holds the group lock.
func (f *Flow) cancelSession(s *Session) Reply {
	f.removeSession(s.GroupID)
	logger.Setup.Info("session cancelled",
		slog.String("event", "cancel"),
		slog.Int64("group_id", s.GroupID),
		slog.String("step", string(s.Step)),
	)
	return Reply{Text: "Setup cancelled. Your previous configuration is unchanged.", Done: true}
}

func (f *Flow) networkPrompt() Reply {
	row := make([]Button, 0, len(f.networks))
	for _, n := range f.networks {
		row = append(row, Button{Label: n.Name, Action: ActionNetwork, Data: n.ID})
	}
	return Reply{
		Text: "⚙️ <b>Step 1/4: Select Network</b>\n\n" +
			"Which network is your token on?",
		Buttons: [][]Button{row, {cancelButton()}},
	}
}

func (f *Flow) stepSelectNetwork(s *Session, in Input) (Reply, error) {
	if in.Kind != KindCallback || in.Action != ActionNetwork {
		return f.networkPrompt(), nil
	}
	if _, ok := f.network(in.Payload); !ok {
		return f.networkPrompt(), nil
	}
	s.NetworkID = in.Payload
	s.Step = StepEnterToken
	return Reply{
		Text: "🔍 <b>Step 2/4: Token Address</b>\n\n" +
			"Send the contract address of the token to track:",
		Buttons: [][]Button{{cancelButton()}},
	}, nil
}

func (f *Flow) stepEnterToken(ctx context.Context, s *Session, in Input) (Reply, error) {
	if in.Kind == KindCallback && in.Action == ActionRetry {
		return Reply{
			Text:    "Send the contract address of the token to track:",
			Buttons: [][]Button{{cancelButton()}},
		}, nil
	}
	if in.Kind != KindText {
		return Reply{
			Text:    "Please send the token contract address as text.",
			Buttons: [][]Button{{cancelButton()}},
		}, nil
	}

	address := strings.ToLower(strings.TrimSpace(in.Text))
	info, err := f.chain.ResolveToken(ctx, s.NetworkID, address)
	if err != nil {
		logger.Setup.Warn("token resolution failed",
			slog.String("event", "resolve"),
			slog.Int64("group_id", s.GroupID),
			slog.String("network", s.NetworkID),
			slog.String("address", address),
			slog.String("err", err.Error()),
		)
		text := "❌ Could not verify that address as a token contract.\n\n" +
			"Check the address and try again."
		if errors.Is(err, chain.ErrBadAddress) {
			text = "❌ That does not look like a valid contract address.\n\n" +
				"Send a 0x-prefixed 40-character hex address."
		}
		// stay on the same step
		return Reply{
			Text: text,
			Buttons: [][]Button{{
				{Label: "🔄 Retry", Action: ActionRetry},
				cancelButton(),
			}},
		}, nil
	}

	s.Token = &info
	s.Step = StepChooseEmoji
	return Reply{
		Text: fmt.Sprintf(
			"✅ Found <b>%s (%s)</b>\n\n"+
				"🎮 <b>Step 3/4: Select Emojis</b>\n\n"+
				"Pick the emojis used in buy notifications:",
			html.EscapeString(info.Name), html.EscapeString(info.Symbol),
		),
		Buttons: emojiKeyboard(),
	}, nil
}

func (f *Flow) stepChooseEmoji(s *Session, in Input) (Reply, error) {
	if in.Kind != KindCallback || in.Action != ActionEmoji {
		return Reply{
			Text:    "Please pick an emoji preset or choose Custom.",
			Buttons: emojiKeyboard(),
		}, nil
	}
	if in.Payload == "custom" {
		s.Step = StepAwaitCustomEmoji
		return Reply{
			Text: "🎨 <b>Custom Emojis</b>\n\n" +
				"Send up to 3 emojis separated by spaces:",
			Buttons: [][]Button{{cancelButton()}},
		}, nil
	}
	preset, ok := EmojiPresets[in.Payload]
	if !ok {
		return Reply{
			Text:    "Please pick an emoji preset or choose Custom.",
			Buttons: emojiKeyboard(),
		}, nil
	}
	s.Emojis = preset
	s.Step = StepAwaitImage
	return imagePrompt(s.Emojis), nil
}

func (f *Flow) stepCustomEmoji(s *Session, in Input) (Reply, error) {
	if in.Kind != KindText || strings.TrimSpace(in.Text) == "" {
		return Reply{
			Text:    "Send up to 3 emojis separated by spaces:",
			Buttons: [][]Button{{cancelButton()}},
		}, nil
	}
	fields := strings.Fields(in.Text)
	if len(fields) > maxCustomEmojis {
		fields = fields[:maxCustomEmojis]
	}
	s.Emojis = strings.Join(fields, " ")
	s.Step = StepAwaitImage
	return imagePrompt(s.Emojis), nil
}

func (f *Flow) stepAwaitImage(ctx context.Context, s *Session, in Input) (Reply, error) {
	switch {
	case in.Kind == KindPhoto && in.PhotoID != "":
		s.ImageFile = in.PhotoID
	case in.Kind == KindCallback && in.Action == ActionImageSkip:
		s.ImageFile = ""
	case in.Kind == KindCallback && in.Action == ActionRetry:
		// retry finalize after a persist failure; keep the chosen image
	default:
		return Reply{
			Text: "Upload an image for buy notifications, or skip to use text only.",
			Buttons: [][]Button{{
				{Label: "⏭ Skip", Action: ActionImageSkip},
				cancelButton(),
			}},
		}, nil
	}
	return f.finalize(ctx, s)
}

// finalize persists the session as the group's config in one upsert, then
// reconciles the subscription. Failures keep the session alive so the
// operator can retry or cancel.
func (f *Flow) finalize(ctx context.Context, s *Session) (Reply, error) {
	cfg, err := f.store.Upsert(ctx, s.GroupID, func(c *store.GroupConfig) error {
		c.Admins = append([]int64(nil), s.Admins...)
		c.NetworkID = s.NetworkID
		c.Token = &store.TokenRef{
			Address:   s.Token.Address,
			Name:      s.Token.Name,
			Symbol:    s.Token.Symbol,
			Decimals:  s.Token.Decimals,
			UpdatedAt: time.Now().UTC(),
		}
		c.NotificationsEnabled = true
		c.Emojis = s.Emojis
		c.ImageFileID = s.ImageFile
		return nil
	})
	if err != nil {
		logger.Setup.Error("finalize persist failed",
			slog.String("event", "finalize"),
			slog.Int64("group_id", s.GroupID),
			slog.String("err", err.Error()),
		)
		return Reply{
			Text: "❌ Saving the configuration failed. Try again.",
			Buttons: [][]Button{{
				{Label: "🔄 Retry", Action: ActionRetry},
				cancelButton(),
			}},
		}, nil
	}

	if err := f.watcher.Reconcile(ctx, s.GroupID, cfg); err != nil {
		logger.Setup.Error("finalize subscribe failed",
			slog.String("event", "finalize"),
			slog.Int64("group_id", s.GroupID),
			slog.String("network", s.NetworkID),
			slog.String("err", err.Error()),
		)
		f.removeSession(s.GroupID)
		return Reply{
			Text: "⚠️ Configuration saved, but the live subscription could not be started.\n" +
				"It will be retried on the next restart, or run /setup again.",
			Done: true,
		}, nil
	}

	f.removeSession(s.GroupID)
	network := s.NetworkID
	if n, ok := f.network(s.NetworkID); ok {
		network = n.Name
	}
	logger.Setup.Info("session completed",
		slog.String("event", "finalize"),
		slog.Int64("group_id", s.GroupID),
		slog.String("network", s.NetworkID),
		slog.String("symbol", s.Token.Symbol),
		slog.String("address", s.Token.Address),
	)
	return Reply{
		Text: fmt.Sprintf(
			"✅ <b>Setup Complete!</b>\n\n"+
				"• Network: %s\n"+
				"• Token: %s (%s)\n"+
				"• Contract: <code>%s</code>\n"+
				"• Emojis: %s\n\n"+
				"Buy notifications are now live.",
			network, html.EscapeString(s.Token.Name), html.EscapeString(s.Token.Symbol),
			s.Token.Address, s.Emojis,
		),
		Buttons: [][]Button{{
			{Label: "🔔 Send sample notification", Action: ActionSample},
		}},
		Done: true,
	}, nil
}

func (f *Flow) network(id string) (coreconfig.NetworkConfig, bool) {
	for _, n := range f.networks {
		if n.ID == id {
			return n, true
		}
	}
	return coreconfig.NetworkConfig{}, false
}

func cancelButton() Button {
	return Button{Label: "❌ Cancel", Action: ActionCancel}
}

func emojiKeyboard() [][]Button {
	return [][]Button{
		{
			{Label: EmojiPresets["set1"], Action: ActionEmoji, Data: "set1"},
			{Label: EmojiPresets["set2"], Action: ActionEmoji, Data: "set2"},
		},
		{
			{Label: EmojiPresets["set3"], Action: ActionEmoji, Data: "set3"},
			{Label: EmojiPresets["set4"], Action: ActionEmoji, Data: "set4"},
		},
		{{Label: "Custom Emojis", Action: ActionEmoji, Data: "custom"}},
		{cancelButton()},
	}
}

func imagePrompt(emojis string) Reply {
	return Reply{
		Text: fmt.Sprintf(
			"🖼 <b>Step 4/4: Notification Image</b>\n\n"+
				"Selected emojis: %s\n\n"+
				"Upload an image for buy notifications, or skip to use text only.",
			emojis,
		),
		Buttons: [][]Button{{
			{Label: "⏭ Skip", Action: ActionImageSkip},
			cancelButton(),
		}},
	}
}
