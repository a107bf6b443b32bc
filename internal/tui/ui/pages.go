package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages keeps the client's navigation stack on top of tview.Pages. Only
// the top page is visible.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
	}
}

// SetOnChange sets a callback run with a copy of the stack after every
// change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page does
// nothing.
func (p *Pages) Push(name string) {
	if p.Current() == name {
		return
	}
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
	p.notify()
}

// Pop removes the top page and returns its name. The last page is never
// popped, so the client always has something to show.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.Current())
	p.notify()
	return top
}

// PopTo pops pages until name is on top. When name is not on the stack
// the stack is reset to it.
func (p *Pages) PopTo(name string) {
	i := slices.Index(p.stack, name)
	if i < 0 {
		p.Reset(name)
		return
	}
	if i == len(p.stack)-1 {
		return
	}
	for _, n := range p.stack[i+1:] {
		p.HidePage(n)
	}
	p.stack = p.stack[:i+1]
	p.show(name)
	p.notify()
}

// Current returns the top page, or "" before the first push.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Contains reports whether name is anywhere on the stack.
func (p *Pages) Contains(name string) bool {
	return slices.Contains(p.stack, name)
}

// Stack returns a copy of the stack, bottom first.
func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Reset replaces the whole stack with name.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.show(name)
	p.notify()
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
