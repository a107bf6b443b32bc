package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	chat "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details. peers holds the live presence of
// the other participants.
func (ci *ConversationInfo) Update(title string, c chat.Conversation, self string, peers []chat.User) {
	ci.Clear()

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)
	field := func(label, value string) string {
		return fmt.Sprintf(" [%s::b]%-14s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, tview.Escape(value))
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(field("Name", sanitizeLine(title)))
	b.WriteString(field("Conversation", c.ID))
	b.WriteString(field("Participants", fmt.Sprintf("%d", len(c.Participants))))
	b.WriteString(field("Unread", fmt.Sprintf("%d", c.Unread(self))))
	if !c.CreatedAt.IsZero() {
		b.WriteString(field("Created", c.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	if c.LastMessage != nil {
		b.WriteString(field("Last message", sanitizeLine(c.LastMessage.Text)))
	}
	if len(peers) > 0 {
		b.WriteString("\n")
		now := time.Now()
		for _, p := range peers {
			pc := ui.ColorName(ci.theme.PresenceColor(p.Presence == chat.Online))
			fmt.Fprintf(&b, " [%s::b]%-14s[-:-:-] [%s]%s[-]\n", fg,
				tview.Escape(sanitizeLine(p.DisplayName))+":", pc, presenceLabel(p, now))
		}
	}

	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeLine(title))))
}

// presenceLabel describes a user's presence, with last seen when offline.
func presenceLabel(u chat.User, now time.Time) string {
	if u.Presence == chat.Online {
		return "online"
	}
	if u.LastSeen.IsZero() {
		return "offline"
	}
	return "last seen " + formatTimestamp(u.LastSeen, now)
}
