package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	chat "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// MessageThread displays messages and a composer for a single conversation.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	title    string
	cid      string
	onSend   func(text string)
	onType   func()
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.TypingColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		if text != "" && mt.onType != nil {
			mt.onType()
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "m", Description: "Older"},
		{Key: "r", Description: "Retry failed"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// Reset prepares the view for another conversation.
func (mt *MessageThread) Reset(cid, title string) {
	mt.cid = cid
	mt.title = title
	mt.messages.Clear()
	mt.typing.Clear()
	mt.composer.SetText("")
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeLine(title))))
}

// ConversationID returns the conversation shown.
func (mt *MessageThread) ConversationID() string {
	return mt.cid
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnKeystroke sets the callback for composer edits.
func (mt *MessageThread) SetOnKeystroke(fn func()) {
	mt.onType = fn
}

// SetTyping shows who is typing, or nothing when label is empty.
func (mt *MessageThread) SetTyping(label string) {
	mt.typing.Clear()
	if label != "" {
		_, _ = fmt.Fprintf(mt.typing, " [::i]%s[-:-:-]", tview.Escape(label))
	}
}

// Update renders msgs, newest first, oldest at the top. nameOf resolves
// sender ids; disconnected marks the list as possibly stale.
func (mt *MessageThread) Update(msgs []chat.Message, hasMore, disconnected bool, nameOf func(string) string) {
	_, _ = fmt.Fprint(mt.messages.Clear(), RenderMessages(msgs, hasMore, disconnected, nameOf, time.Now()))
	mt.messages.ScrollToEnd()
}

// RenderMessages formats a thread as tview markup.
func RenderMessages(msgs []chat.Message, hasMore, disconnected bool, nameOf func(string) string, now time.Time) string {
	var b strings.Builder
	if hasMore {
		b.WriteString("[::d]  (m for older messages)[-:-:-]\n\n")
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s %s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeLine(nameOf(m.SenderID))),
			formatTimestamp(m.Timestamp, now),
			deliveryMark(m),
			tview.Escape(sanitizeForTerminal(body(m))))
	}
	if disconnected {
		b.WriteString("[orange]  offline, showing the last known messages[-]\n")
	}
	return b.String()
}

func body(m chat.Message) string {
	if m.Attachment == nil {
		return m.Text
	}
	label := fmt.Sprintf("[%s: %s, %s]", m.Kind, m.Attachment.FileName, humanSize(m.Attachment.FileSize))
	if m.Text == "" {
		return label
	}
	return label + " " + m.Text
}

func deliveryMark(m chat.Message) string {
	switch {
	case m.Failed:
		return "!failed"
	case m.Provisional():
		return "..."
	case m.Status == chat.StatusRead:
		return "read"
	case m.Status == chat.StatusDelivered:
		return "delivered"
	default:
		return "sent"
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
