package ui

import "github.com/rivo/tview"

// MenuHint is one key hint in the header menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // digit shortcuts get their own color
}

// Component is a page of the client. Name labels its crumb and Hints fill
// the menu while it is on top of the stack.
type Component interface {
	tview.Primitive
	Name() string
	Hints() []MenuHint
}
