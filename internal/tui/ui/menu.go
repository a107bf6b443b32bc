package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// Menu shows the key hints of the top page, laid out in columns of at most
// rows lines.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

// NewMenu creates a menu with the given column height.
func NewMenu(theme *Theme, rows int) *Menu {
	if rows < 1 {
		rows = 1
	}
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		rows:     rows,
	}
}

// Update renders hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, m.layout(hints))
}

func (m *Menu) layout(hints []MenuHint) string {
	if len(hints) == 0 {
		return ""
	}
	keyColor := ColorName(m.theme.MenuKeyColor)
	numColor := ColorName(m.theme.NumericKeyColor)

	cols := (len(hints) + m.rows - 1) / m.rows
	widths := make([]int, cols)
	for i, h := range hints {
		if w := hintWidth(h); w > widths[i/m.rows] {
			widths[i/m.rows] = w
		}
	}

	lines := make([]strings.Builder, min(m.rows, len(hints)))
	for i, h := range hints {
		col, row := i/m.rows, i%m.rows
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		line := &lines[row]
		_, _ = fmt.Fprintf(line, "[%s::b]<%s>[-:-:-] %s", kc, tview.Escape(h.Key), tview.Escape(h.Description))
		if col < cols-1 {
			line.WriteString(strings.Repeat(" ", widths[col]-hintWidth(h)+3))
		}
	}

	out := make([]string, len(lines))
	for i := range lines {
		out[i] = lines[i].String()
	}
	return strings.Join(out, "\n")
}

// hintWidth is the drawn width of a hint, "<key> description".
func hintWidth(h MenuHint) int {
	return utf8.RuneCountInString(h.Key) + 3 + utf8.RuneCountInString(h.Description)
}
