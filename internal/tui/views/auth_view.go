package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Credentials is what the sign-in form collects. DisplayName is only used
// to sign up.
type Credentials struct {
	Email       string
	Password    string
	DisplayName string
}

// AuthView is the sign-in and sign-up form.
type AuthView struct {
	*tview.Flex
	theme    *ui.Theme
	form     *tview.Form
	message  *tview.TextView
	onSignIn func(Credentials)
	onSignUp func(Credentials)
}

// NewAuthView creates a new auth view.
func NewAuthView(theme *ui.Theme) *AuthView {
	form := tview.NewForm().
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddInputField("Display name", "", 40, nil, nil)
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.TableCursorBg)
	form.SetButtonTextColor(theme.TableCursorFg)
	form.SetTitle(" Sign in ")
	form.SetTitleColor(theme.TitleColor)

	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.BgColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(form, 11, 0, true).
		AddItem(message, 0, 1, false)

	av := &AuthView{
		Flex:    flex,
		theme:   theme,
		form:    form,
		message: message,
	}
	form.AddButton("Sign in", func() {
		if av.onSignIn != nil {
			av.onSignIn(av.Credentials())
		}
	})
	form.AddButton("Sign up", func() {
		if av.onSignUp != nil {
			av.onSignUp(av.Credentials())
		}
	})
	return av
}

// Name implements Component.
func (av *AuthView) Name() string { return "Sign in" }

// Hints implements Component.
func (av *AuthView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Press button"},
		{Key: "Ctrl-C", Description: "Quit"},
	}
}

// SetOnSignIn sets the callback of the sign-in button.
func (av *AuthView) SetOnSignIn(fn func(Credentials)) { av.onSignIn = fn }

// SetOnSignUp sets the callback of the sign-up button.
func (av *AuthView) SetOnSignUp(fn func(Credentials)) { av.onSignUp = fn }

// Credentials reads the form fields.
func (av *AuthView) Credentials() Credentials {
	text := func(label string) string {
		if f, ok := av.form.GetFormItemByLabel(label).(*tview.InputField); ok {
			return f.GetText()
		}
		return ""
	}
	return Credentials{
		Email:       text("Email"),
		Password:    text("Password"),
		DisplayName: text("Display name"),
	}
}

// ClearPassword empties the password field.
func (av *AuthView) ClearPassword() {
	if f, ok := av.form.GetFormItemByLabel("Password").(*tview.InputField); ok {
		f.SetText("")
	}
}

// Form returns the form (for focus management).
func (av *AuthView) Form() *tview.Form { return av.form }

// ShowMessage displays a status line under the form.
func (av *AuthView) ShowMessage(msg string) {
	av.message.Clear()
	_, _ = fmt.Fprintf(av.message, "\n%s", tview.Escape(msg))
}

// ShowError displays an error under the form.
func (av *AuthView) ShowError(err error) {
	av.message.Clear()
	_, _ = fmt.Fprintf(av.message, "\n[%s]%s[-]", ui.ColorName(av.theme.FlashErrColor), tview.Escape(err.Error()))
}
