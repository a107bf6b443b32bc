// Package tui is the terminal client: a k9s-style tview application over
// the synchronization core.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
)

const (
	pageAuth    = "auth"
	pageList    = "conversations"
	pageThread  = "thread"
	pageDetails = "details"
	pageSearch  = "search"
	pageHelp    = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	root     *tview.Flex
	crumbs   *ui.Crumbs
	menu     *ui.Menu
	info     *ui.SessionInfo
	logo     *ui.Logo
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	registry *keys.Registry

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	search  *views.SearchView
	auth    *views.AuthView
	help    *views.HelpView
	comps   map[string]ui.Component

	client  *client.Client
	vm      *model.ViewModel
	flash   *model.Flash
	logger  *zap.Logger
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	stopVM  context.CancelFunc
}

// NewApp creates the TUI application for an opened client.
func NewApp(c *client.Client, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		crumbs:   ui.NewCrumbs(theme),
		menu:     ui.NewMenu(theme, 6),
		info:     ui.NewSessionInfo(theme),
		logo:     ui.NewLogo(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		registry: keys.NewRegistry(),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		search:   views.NewSearchView(theme),
		auth:     views.NewAuthView(theme),
		help:     views.NewHelpView(theme),
		client:   c,
		flash:    model.NewFlash(),
		logger:   logger,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.comps = map[string]ui.Component{
		pageAuth:    a.auth,
		pageList:    a.list,
		pageThread:  a.thread,
		pageDetails: a.details,
		pageSearch:  a.search,
		pageHelp:    a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal("command", &keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: ":cmd", Visible: true,
		Handler: func() { a.activatePrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Description: "?:help", Visible: true,
		Handler: func() { a.push(pageHelp, a.help) },
	})

	a.registry.AddView(pageList, "filter", &keys.Action{
		Key: tcell.KeyRune, Rune: '/',
		Handler: func() { a.activatePrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageList, "new", &keys.Action{
		Key: tcell.KeyRune, Rune: 'n',
		Handler: a.showSearch,
	})
	a.registry.AddView(pageList, "clear", &keys.Action{
		Key: tcell.KeyRune, Rune: '0',
		Handler: a.list.ClearFilter,
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageList, "jump"+strconv.Itoa(n), &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n),
			Handler: func() {
				if cid := a.list.ByIndex(n); cid != "" {
					a.openConversation(cid)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, "more", &keys.Action{
		Key: tcell.KeyRune, Rune: 'm',
		Handler: a.loadMore,
	})
	a.registry.AddView(pageThread, "retry", &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Handler: a.retryFailed,
	})
	a.registry.AddView(pageThread, "details", &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Handler: a.showDetails,
	})
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if cid := a.list.ByIndex(row); cid != "" {
			a.openConversation(cid)
		}
	})

	a.thread.SetOnKeystroke(func() {
		if vm := a.vm; vm != nil {
			vm.Keystroke()
		}
	})
	a.thread.SetOnSend(func(text string) {
		vm := a.vm
		if vm == nil {
			return
		}
		go func() {
			if err := vm.Send(a.ctx, text); err != nil {
				a.flash.Err(fmt.Errorf("send failed: %w", err))
			}
		}()
	})

	a.search.SetOnQuery(func(query string) {
		vm := a.vm
		if vm == nil {
			return
		}
		go func() {
			users, err := vm.Search(a.ctx, query)
			if err != nil {
				a.flash.Err(fmt.Errorf("search failed: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() { a.search.Update(query, users) })
		}()
	})
	a.search.SetOnSubmit(func() {
		if a.search.Found() > 0 {
			a.app.SetFocus(a.search.Results())
		}
	})
	a.search.SetOnSelect(func(uid string) {
		vm := a.vm
		if vm == nil {
			return
		}
		go func() {
			cid, err := vm.StartChat(a.ctx, uid)
			if err != nil {
				a.flash.Err(fmt.Errorf("start chat: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.pages.PopTo(pageList)
				a.showThread(cid)
			})
		}()
	})

	a.auth.SetOnSignIn(func(cr views.Credentials) {
		a.authenticate(func(ctx context.Context) (string, error) {
			u, err := a.client.Identity.SignIn(ctx, cr.Email, cr.Password)
			return u.UID, err
		})
	})
	a.auth.SetOnSignUp(func(cr views.Credentials) {
		a.authenticate(func(ctx context.Context) (string, error) {
			u, err := a.client.Identity.SignUp(ctx, cr.Email, cr.Password, cr.DisplayName)
			return u.UID, err
		})
	})

	a.prompt.SetCommands(Commands)
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.deactivatePrompt()
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
			return
		}
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.list.ClearFilter()
		}
		a.deactivatePrompt()
	})
	a.prompt.SetOnFilter(a.list.SetFilter)

	a.pages.SetOnChange(func(stack []string) {
		names := make([]string, 0, len(stack))
		for _, p := range stack {
			names = append(names, a.comps[p].Name())
		}
		a.crumbs.Update(names)
		if len(stack) > 0 {
			a.menu.Update(a.comps[stack[len(stack)-1]].Hints())
		}
	})
}

func (a *App) setupLayout() {
	for name, c := range a.comps {
		a.pages.AddPage(name, c, true, false)
	}

	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 14, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current := a.pages.Current()
		focused := a.app.GetFocus()

		if event.Key() == tcell.KeyEscape {
			switch {
			case focused == a.prompt.InputField:
				return event
			case focused == a.thread.Composer():
				a.app.SetFocus(a.thread.Messages())
				return nil
			case current == pageThread:
				a.closeThread()
				return nil
			case current != pageList && current != pageAuth:
				a.back()
				return nil
			}
		}

		// Text inputs and the sign-in form take every other key.
		switch focused.(type) {
		case *tview.InputField, *tview.Button:
			return event
		}
		if current == pageAuth {
			return event
		}

		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string, focus tview.Primitive) {
	a.pages.Push(page)
	a.app.SetFocus(focus)
}

func (a *App) back() {
	a.pages.Pop()
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	default:
		a.app.SetFocus(a.list)
	}
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) deactivatePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	default:
		a.app.SetFocus(a.list)
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp, a.help)
	case "logout":
		go a.signOut()
	case "search":
		a.showSearch()
		if cmd.Args != "" {
			a.search.Input().SetText(cmd.Args)
		}
	case "chat":
		if a.vm == nil {
			return
		}
		if cid, ok := a.vm.FindByName(cmd.Args); ok {
			a.openConversation(cid)
			return
		}
		a.flash.Warn("no conversation matches " + cmd.Args)
	case "more":
		a.loadMore()
	case "retry":
		a.retryFailed()
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}

func (a *App) showSearch() {
	a.search.Reset()
	a.push(pageSearch, a.search.Input())
}

func (a *App) showDetails() {
	vm := a.vm
	if vm == nil {
		return
	}
	c, ok := vm.Conversation(vm.ActiveID())
	if !ok {
		return
	}
	a.details.Update(vm.Title(c), c, vm.Self(), vm.Peers())
	a.push(pageDetails, a.details)
}

func (a *App) openConversation(cid string) {
	vm := a.vm
	if vm == nil {
		return
	}
	go func() {
		if err := vm.Open(a.ctx, cid); err != nil {
			a.flash.Err(fmt.Errorf("open conversation: %w", err))
			return
		}
		a.app.QueueUpdateDraw(func() { a.showThread(cid) })
	}()
}

func (a *App) showThread(cid string) {
	title := cid
	if c, ok := a.vm.Conversation(cid); ok {
		title = a.vm.Title(c)
	}
	a.thread.Reset(cid, title)
	a.renderThread()
	a.push(pageThread, a.thread.Composer())
}

func (a *App) closeThread() {
	if vm := a.vm; vm != nil {
		go vm.CloseConversation()
	}
	a.back()
}

func (a *App) loadMore() {
	vm := a.vm
	if vm == nil {
		return
	}
	go func() {
		n, err := vm.LoadMore(a.ctx)
		switch {
		case err != nil:
			a.flash.Err(fmt.Errorf("load history: %w", err))
		case n == 0:
			a.flash.Info("no older messages")
		}
	}()
}

func (a *App) retryFailed() {
	vm := a.vm
	if vm == nil {
		return
	}
	go func() {
		n, err := vm.RetryFailed(a.ctx)
		if err != nil {
			a.flash.Err(fmt.Errorf("retry: %w", err))
			return
		}
		a.flash.Info(fmt.Sprintf("retried %d message(s)", n))
	}()
}

func (a *App) authenticate(signIn func(ctx context.Context) (string, error)) {
	a.auth.ShowMessage("Signing in...")
	go func() {
		uid, err := signIn(a.ctx)
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				a.auth.ClearPassword()
				a.auth.ShowError(err)
			})
			return
		}
		a.startSession(uid)
	}()
}

// startSession connects the core for uid and switches to the conversation
// list. It runs off the UI goroutine.
func (a *App) startSession(uid string) {
	core := a.client.Core
	fail := func(err error) {
		a.app.QueueUpdateDraw(func() {
			a.pages.Reset(pageAuth)
			a.app.SetFocus(a.auth.Form())
			a.auth.ShowError(err)
		})
	}
	if err := core.Connect(a.ctx); err != nil {
		a.logger.Error("connect failed", zap.Error(err))
		fail(err)
		return
	}
	if err := core.Foreground(a.ctx); err != nil {
		a.logger.Warn("presence update failed", zap.Error(err))
	}

	vm := model.NewViewModel(core, uid)
	vm.Flash = a.flash
	if err := vm.Start(a.ctx); err != nil {
		fail(err)
		return
	}
	vctx, cancel := context.WithCancel(a.ctx)

	a.app.QueueUpdateDraw(func() {
		a.vm = vm
		a.stopVM = cancel
		a.pages.Reset(pageList)
		a.app.SetFocus(a.list)
		a.render()
	})
	go a.watch(vctx, vm)
}

func (a *App) watch(ctx context.Context, vm *model.ViewModel) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-vm.RefreshCh():
		case <-a.flash.Watch():
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

func (a *App) signOut() {
	vm := a.vm
	if vm != nil {
		vm.Close()
	}
	if err := a.client.Core.Background(a.ctx); err != nil {
		a.logger.Warn("presence update failed", zap.Error(err))
	}
	a.client.Core.Disconnect()
	if err := a.client.Identity.SignOut(); err != nil {
		a.flash.Err(err)
	}
	a.app.QueueUpdateDraw(func() {
		if a.stopVM != nil {
			a.stopVM()
		}
		a.vm = nil
		a.pages.Reset(pageAuth)
		a.app.SetFocus(a.auth.Form())
		a.auth.ShowMessage("Signed out")
		a.render()
	})
}

// render copies the view model into the widgets. It runs on the UI
// goroutine.
func (a *App) render() {
	a.flashBar.Update(a.flash.Current())
	vm := a.vm
	data := &ui.SessionData{Profile: a.client.Profile, Status: string(a.client.Core.Status()), Uptime: time.Since(a.started)}
	if u, ok := a.client.Identity.CurrentUser(); ok {
		data.User = u.Email
	}
	if vm == nil {
		a.info.Update(data)
	a.logo.SetDegraded(data.Degraded)
		return
	}

	convs := vm.Conversations()
	rows := make([]views.ConversationRow, 0, len(convs))
	for _, c := range convs {
		row := views.ConversationRow{ID: c.ID, Title: vm.Title(c), Unread: c.Unread(vm.Self()), At: c.UpdatedAt, Group: len(c.Participants) > 2}
		if c.LastMessage != nil {
			row.Preview = c.LastMessage.Text
			row.At = c.LastMessage.Timestamp
		}
		rows = append(rows, row)
	}
	a.list.Update(rows)

	state := vm.State()
	data.Status = string(state)
	data.Degraded = state == status.Degraded || vm.ListErr() != nil
	data.Conversations = len(convs)
	data.Unread = vm.TotalUnread()
	data.Pending = len(a.client.Core.Outbox().Failed())
	a.info.Update(data)
	a.logo.SetDegraded(data.Degraded)

	if a.pages.Contains(pageThread) {
		a.renderThread()
	}
}

func (a *App) renderThread() {
	vm := a.vm
	if vm == nil || vm.ActiveID() != a.thread.ConversationID() {
		return
	}
	a.thread.Update(vm.Messages(), vm.HasMore(), vm.StreamErr() != nil, vm.DisplayName)
	a.thread.SetTyping(vm.TypingLabel())
}

// Run starts the TUI application. A restored session goes straight to the
// conversation list; otherwise the sign-in form is shown.
func (a *App) Run() error {
	if u, ok := a.client.Identity.CurrentUser(); ok {
		a.pages.Reset(pageList)
		a.app.SetFocus(a.list)
		go a.startSession(u.UID)
	} else {
		a.pages.Reset(pageAuth)
		a.app.SetFocus(a.auth.Form())
	}
	a.render()
	return a.app.Run()
}

// Stop marks the user offline and shuts down the TUI.
func (a *App) Stop() {
	if vm := a.vm; vm != nil {
		vm.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.client.Core.Background(ctx); err != nil {
			a.logger.Warn("presence update failed", zap.Error(err))
		}
		cancel()
	}
	a.cancel()
	a.app.Stop()
}
