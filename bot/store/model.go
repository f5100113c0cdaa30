package store

import "time"

// TokenRef identifies the tracked token of a group together with the
// metadata resolved from the chain at setup time.
type TokenRef struct {
	// Address is the contract address in lowercase hex form.
	Address   string
	Name      string
	Symbol    string
	Decimals  uint8
	UpdatedAt time.Time
}

// GroupConfig is the per-group configuration record. GroupID is the
// Telegram chat identifier and the primary key.
type GroupConfig struct {
	GroupID int64
	// Admins holds the user IDs of chat administrators captured when the
	// setup flow completed. Never empty once the group is configured.
	Admins    []int64
	NetworkID string
	// Token is nil until the setup flow has completed at least once.
	Token                *TokenRef
	NotificationsEnabled bool
	Emojis               string
	ImageFileID          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Configured reports whether the group has a tracked token.
func (g *GroupConfig) Configured() bool {
	return g != nil && g.Token != nil && g.Token.Address != ""
}

// IsAdmin reports whether userID is in the captured admin list.
func (g *GroupConfig) IsAdmin(userID int64) bool {
	if g == nil {
		return false
	}
	for _, id := range g.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without sharing state.
func (g GroupConfig) Clone() GroupConfig {
	out := g
	if g.Admins != nil {
		out.Admins = append([]int64(nil), g.Admins...)
	}
	if g.Token != nil {
		t := *g.Token
		out.Token = &t
	}
	return out
}
