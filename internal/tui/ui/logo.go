package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo is the header mark. Its color follows the connection: the title
// color while live, the degraded color while subscriptions are failing.
type Logo struct {
	*tview.TextView
	theme    *Theme
	degraded bool
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{
		TextView: tv,
		theme:    theme,
	}
	l.render()
	return l
}

// SetDegraded recolors the logo when the connection state changes.
func (l *Logo) SetDegraded(degraded bool) {
	if l.degraded == degraded {
		return
	}
	l.degraded = degraded
	l.render()
}

func (l *Logo) render() {
	l.Clear()
	mark := ColorName(l.theme.TitleColor)
	label := "chatsync"
	if l.degraded {
		mark = ColorName(l.theme.DegradedColor)
		label = "offline"
	}
	fg := ColorName(l.theme.FgColor)

	_, _ = fmt.Fprintf(l,
		"[%s::b] ┏━╸╻ ╻┏━┓╺┳╸[-:-:-]\n"+
			"[%s::b] ┃  ┣━┫┣━┫ ┃ [-:-:-]\n"+
			"[%s::b] ┗━╸╹ ╹╹ ╹ ╹ [-:-:-]\n"+
			"[%s] %s[-:-:-]",
		mark, mark, mark, fg, label,
	)
}
