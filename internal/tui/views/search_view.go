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

// SearchView finds people by display name prefix while the name is typed.
type SearchView struct {
	*tview.Flex
	theme    *ui.Theme
	input    *tview.InputField
	results  *tview.Table
	onQuery  func(query string)
	onSubmit func()
	data     []chat.User
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Name: ").
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	sv := &SearchView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(input, 1, 0, true).
			AddItem(results, 0, 1, false),
		theme:   theme,
		input:   input,
		results: results,
	}
	input.SetChangedFunc(func(text string) {
		if q := sv.Query(); q != "" && sv.onQuery != nil {
			sv.onQuery(q)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onSubmit != nil {
			sv.onSubmit()
		}
	})
	sv.Update("", nil)
	return sv
}

// Name implements Component.
func (sv *SearchView) Name() string { return "Search" }

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Results/Chat"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// Query is the trimmed search text. Prefix matching is case-sensitive, so
// the case is kept.
func (sv *SearchView) Query() string {
	return strings.TrimSpace(sv.input.GetText())
}

// SetOnQuery sets the callback run whenever the query text changes.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetOnSubmit sets the callback run when Enter is pressed in the input.
func (sv *SearchView) SetOnSubmit(fn func()) {
	sv.onSubmit = fn
}

// Update shows users found for query. Results for a query that no longer
// matches the input are dropped and Update reports false.
func (sv *SearchView) Update(query string, users []chat.User) bool {
	if query != sv.Query() {
		return false
	}
	sv.data = users
	sv.results.Clear()

	for col, h := range []string{" NAME", " EMAIL", " STATUS"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	now := time.Now()
	for i, u := range users {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeLine(u.DisplayName))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(u.Email)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+presenceLabel(u, now)).SetMaxWidth(24).
			SetTextColor(sv.theme.PresenceColor(u.Presence == chat.Online)))
	}
	if query != "" && len(users) == 0 {
		sv.results.SetCell(1, 0, tview.NewTableCell(" no one named "+tview.Escape(sanitizeLine(query))+"...").
			SetSelectable(false).
			SetTextColor(sv.theme.TypingColor))
	}

	switch {
	case query == "":
		sv.results.SetTitle(" People ")
	default:
		sv.results.SetTitle(fmt.Sprintf(" People (%d) ", len(users)))
	}
	if len(users) > 0 {
		sv.results.Select(1, 0)
	}
	return true
}

// Reset clears the query and the results.
func (sv *SearchView) Reset() {
	sv.input.SetText("")
	sv.Update("", nil)
}

// Found reports how many people the current results hold.
func (sv *SearchView) Found() int { return len(sv.data) }

// SelectedUser returns the id of the highlighted person.
func (sv *SearchView) SelectedUser() string {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ID
	}
	return ""
}

// SetOnSelect sets the callback when a person is chosen.
func (sv *SearchView) SetOnSelect(fn func(uid string)) {
	sv.results.SetSelectedFunc(func(row, _ int) {
		if uid := sv.SelectedUser(); uid != "" {
			fn(uid)
		}
	})
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
