package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme is the client's palette.
type Theme struct {
	// Chrome.
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	PromptBorderColor tcell.Color

	// Tables.
	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color

	// Header and footer.
	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color
	MenuKeyColor    tcell.Color
	NumericKeyColor tcell.Color
	FlashInfoColor  tcell.Color
	FlashWarnColor  tcell.Color
	FlashErrColor   tcell.Color

	// Chat state.
	UnreadColor   tcell.Color
	TypingColor   tcell.Color
	OnlineColor   tcell.Color
	OfflineColor  tcell.Color
	DegradedColor tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		PromptBorderColor: tcell.ColorDodgerBlue,

		TableHeaderFg: tcell.ColorWhite,
		TableHeaderBg: tcell.ColorBlack,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorAqua,

		CrumbActiveFg:   tcell.ColorBlack,
		CrumbActiveBg:   tcell.ColorOrange,
		CrumbInactiveFg: tcell.ColorBlack,
		CrumbInactiveBg: tcell.ColorAqua,
		MenuKeyColor:    tcell.ColorDodgerBlue,
		NumericKeyColor: tcell.ColorFuchsia,
		FlashInfoColor:  tcell.ColorNavajoWhite,
		FlashWarnColor:  tcell.ColorOrange,
		FlashErrColor:   tcell.ColorOrangeRed,

		UnreadColor:   tcell.ColorWhite,
		TypingColor:   tcell.ColorDarkGray,
		OnlineColor:   tcell.ColorLimeGreen,
		OfflineColor:  tcell.ColorGray,
		DegradedColor: tcell.ColorOrange,
	}
}

// PresenceColor is the color of a presence label.
func (t *Theme) PresenceColor(online bool) tcell.Color {
	if online {
		return t.OnlineColor
	}
	return t.OfflineColor
}

// ColorName returns c in the form tview color tags accept.
func ColorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
