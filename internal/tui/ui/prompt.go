package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates the type of prompt (command or filter).
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const historySize = 20

// Prompt is the command and filter bar. Command mode completes command
// names and recalls earlier commands with Up and Down; filter mode reports
// every edit so lists can narrow while typing.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	commands []string
	history  []string
	recall   int
	onSubmit func(mode PromptMode, text string)
	onCancel func()
	onFilter func(text string)
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{
		InputField: input,
		theme:      theme,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(p.GetText())
			if p.mode == PromptCommand && text != "" {
				p.remember(text)
			}
			if p.onSubmit != nil && text != "" {
				p.onSubmit(p.mode, text)
			}
			p.SetText("")
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	input.SetChangedFunc(func(text string) {
		if p.mode == PromptFilter && p.onFilter != nil {
			p.onFilter(text)
		}
	})
	input.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand {
			return event
		}
		switch event.Key() {
		case tcell.KeyUp:
			p.step(-1)
			return nil
		case tcell.KeyDown:
			p.step(1)
			return nil
		}
		return event
	})

	return p
}

// SetOnSubmit sets the callback when the prompt is submitted.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// SetOnFilter sets the callback run on every edit in filter mode.
func (p *Prompt) SetOnFilter(fn func(text string)) {
	p.onFilter = fn
}

// SetCommands sets the command names offered for completion.
func (p *Prompt) SetCommands(names []string) {
	p.commands = names
	p.SetAutocompleteFunc(func(text string) []string {
		if p.mode != PromptCommand || text == "" || strings.Contains(text, " ") {
			return nil
		}
		return completions(p.commands, text)
	})
}

func completions(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) && n != prefix {
			out = append(out, n)
		}
	}
	return out
}

// remember appends a command to the history, most recent last, without
// repeating the previous entry.
func (p *Prompt) remember(cmd string) {
	if n := len(p.history); n == 0 || p.history[n-1] != cmd {
		p.history = append(p.history, cmd)
	}
	if len(p.history) > historySize {
		p.history = p.history[len(p.history)-historySize:]
	}
	p.recall = len(p.history)
}

// step moves through the history; stepping past the newest entry clears
// the field.
func (p *Prompt) step(delta int) {
	if len(p.history) == 0 {
		return
	}
	p.recall = max(0, min(len(p.history), p.recall+delta))
	if p.recall == len(p.history) {
		p.SetText("")
		return
	}
	p.SetText(p.history[p.recall])
}

// History returns the remembered commands, oldest first.
func (p *Prompt) History() []string {
	return append([]string(nil), p.history...)
}

// Activate shows the prompt in the specified mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.recall = len(p.history)
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}
