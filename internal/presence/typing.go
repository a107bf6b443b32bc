// Package presence aggregates who is typing and who is online, and keeps
// online status honest with heartbeat leases.
package presence

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// Typing is the set of users currently typing in one conversation, the local
// user excluded.
type Typing struct {
	self  string
	users []string
}

func NewTyping(self string) *Typing {
	return &Typing{self: self}
}

// Replace installs a snapshot of typing markers and reports whether the set
// changed.
func (t *Typing) Replace(markers []model.TypingMarker) bool {
	var next []string
	for _, m := range markers {
		if m.UserID == t.self || m.UserID == "" || slices.Contains(next, m.UserID) {
			continue
		}
		next = append(next, m.UserID)
	}
	slices.Sort(next)
	changed := !slices.Equal(next, t.users)
	t.users = next
	return changed
}

// Users returns the typing users. Order carries no meaning.
func (t *Typing) Users() []string {
	return slices.Clone(t.users)
}

// Label renders the indicator text. name resolves a user id to a display name.
func Label(users []string, name func(uid string) string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		n := users[0]
		if name != nil {
			if dn := name(users[0]); dn != "" {
				n = dn
			}
		}
		return n + " is typing"
	default:
		return "multiple people typing"
	}
}
