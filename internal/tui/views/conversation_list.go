package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// ConversationRow is one line of the conversation list.
type ConversationRow struct {
	ID      string
	Title   string
	Preview string
	Unread  int64
	At      time.Time
	Group   bool
}

// ConversationList is the main chat list view.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	rows   []ConversationRow
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "n", Description: "New chat"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the list. rows are already ordered most recent first.
func (cl *ConversationList) Update(rows []ConversationRow) {
	selected := cl.SelectedConversation()
	cl.rows = rows
	cl.render()
	cl.Select(cl.rowOf(selected), 0)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) visible() []ConversationRow {
	if cl.filter == "" {
		return cl.rows
	}
	var out []ConversationRow
	for _, r := range cl.rows {
		if containsFold(r.Title, cl.filter) || containsFold(r.Preview, cl.filter) {
			out = append(out, r)
		}
	}
	return out
}

func (cl *ConversationList) rowOf(id string) int {
	for i, r := range cl.visible() {
		if r.ID == id {
			return i + 1
		}
	}
	return 1
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	rows := cl.visible()
	for i, r := range rows {
		row := i + 1
		fg := cl.theme.FgColor
		unread := ""
		if r.Unread > 0 {
			fg = cl.theme.UnreadColor
			unread = fmt.Sprintf("%d", r.Unread)
		}
		title := r.Title
		if r.Group {
			title += " (group)"
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeLine(title))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeLine(r.Preview))).SetExpansion(2).SetMaxWidth(60).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(r.At, time.Now())).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(rows), len(cl.rows), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.rows)))
	}
}

// SelectedConversation returns the id of the highlighted conversation.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ByIndex(row)
}

// ByIndex returns the id of the Nth visible conversation (1-based).
func (cl *ConversationList) ByIndex(n int) string {
	rows := cl.visible()
	if n < 1 || n > len(rows) {
		return ""
	}
	return rows[n-1].ID
}

// formatTimestamp shows the time for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
