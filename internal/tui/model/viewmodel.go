package model

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/docstore"
	chat "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/typing"
)

// ErrNoConversation is returned by actions that need an open conversation.
var ErrNoConversation = errors.New("no conversation open")

// ViewModel caches the snapshots pushed by the synchronization core and
// signals UI refreshes. Callbacks arrive on core goroutines; the UI reads
// through the getters.
type ViewModel struct {
	mu sync.RWMutex

	core  *chatsync.Core
	self  string
	Flash *Flash

	conversations []chat.Conversation
	profiles      map[string]chat.User
	totalUnread   int64
	listErr       error
	listDispose   docstore.Disposer

	view      *chatsync.ConversationView
	activeID  string
	messages  []chat.Message
	hasMore   bool
	typing    string
	peers     map[string]chat.User
	streamErr error
	debouncer *typing.Debouncer

	state     status.State
	statusOff func()
	refreshCh chan struct{}
}

// NewViewModel creates a view model for the signed-in user self.
func NewViewModel(core *chatsync.Core, self string) *ViewModel {
	return &ViewModel{
		core:      core,
		self:      self,
		Flash:     NewFlash(),
		profiles:  make(map[string]chat.User),
		peers:     make(map[string]chat.User),
		state:     core.Status(),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Self is the signed-in user id.
func (vm *ViewModel) Self() string { return vm.self }

// Start subscribes to the conversation list and the session state.
func (vm *ViewModel) Start(ctx context.Context) error {
	d, err := vm.core.SubscribeToConversationList(ctx, vm.self, vm.onConversations)
	if err != nil {
		return err
	}
	ch, unsub := vm.core.Bus().Subscribe(bus.KindSessionStatus, 8)
	sctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok {
					vm.mu.Lock()
					vm.state = sc.To
					vm.mu.Unlock()
					vm.signalRefresh()
				}
			case <-sctx.Done():
				return
			}
		}
	}()

	vm.mu.Lock()
	vm.listDispose = d
	vm.statusOff = func() {
		cancel()
		unsub()
	}
	vm.state = vm.core.Status()
	vm.mu.Unlock()
	return nil
}

func (vm *ViewModel) onConversations(u chatsync.ConversationsUpdate) {
	vm.mu.Lock()
	vm.conversations = u.Conversations
	for uid, p := range u.Profiles {
		vm.profiles[uid] = p
	}
	vm.totalUnread = u.TotalUnread
	vm.listErr = u.Err
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Open makes cid the active conversation. Incoming messages are marked read
// while it stays open.
func (vm *ViewModel) Open(ctx context.Context, cid string) error {
	vm.CloseConversation()

	vm.mu.Lock()
	vm.activeID = cid
	vm.messages = nil
	vm.hasMore = false
	vm.typing = ""
	vm.streamErr = nil
	vm.peers = make(map[string]chat.User)
	vm.mu.Unlock()

	view, err := vm.core.OpenConversation(ctx, cid, chatsync.ViewHandlers{
		Messages: func(u chatsync.MessagesUpdate) { vm.onMessages(cid, u) },
		Typing:   func(u chatsync.TypingUpdate) { vm.onTyping(cid, u) },
		User:     func(u chatsync.UserUpdate) { vm.onUser(cid, u) },
		MarkRead: true,
	})
	if err != nil {
		vm.mu.Lock()
		vm.activeID = ""
		vm.mu.Unlock()
		return err
	}
	deb, err := vm.core.TypingDebouncer(cid)
	if err != nil {
		view.Close()
		return err
	}

	vm.mu.Lock()
	if vm.activeID != cid {
		vm.mu.Unlock()
		view.Close()
		deb.Close()
		return nil
	}
	vm.view = view
	vm.debouncer = deb
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

func (vm *ViewModel) onMessages(cid string, u chatsync.MessagesUpdate) {
	vm.mu.Lock()
	if vm.activeID != cid {
		vm.mu.Unlock()
		return
	}
	vm.messages = u.Messages
	vm.hasMore = u.HasMore
	vm.streamErr = u.Err
	vm.mu.Unlock()
	vm.signalRefresh()
}

func (vm *ViewModel) onTyping(cid string, u chatsync.TypingUpdate) {
	vm.mu.Lock()
	if vm.activeID != cid {
		vm.mu.Unlock()
		return
	}
	vm.typing = u.Label
	vm.mu.Unlock()
	vm.signalRefresh()
}

func (vm *ViewModel) onUser(cid string, u chatsync.UserUpdate) {
	if !u.Found {
		return
	}
	vm.mu.Lock()
	if vm.activeID != cid {
		vm.mu.Unlock()
		return
	}
	vm.peers[u.User.ID] = u.User
	vm.profiles[u.User.ID] = u.User
	vm.mu.Unlock()
	vm.signalRefresh()
}

// CloseConversation releases the active conversation's subscriptions and
// clears the local typing marker.
func (vm *ViewModel) CloseConversation() {
	vm.mu.Lock()
	view, deb := vm.view, vm.debouncer
	vm.view, vm.debouncer = nil, nil
	vm.activeID = ""
	vm.mu.Unlock()
	if deb != nil {
		deb.Close()
	}
	if view != nil {
		view.Close()
	}
}

// Keystroke reports composer activity for the typing indicator.
func (vm *ViewModel) Keystroke() {
	vm.mu.RLock()
	deb := vm.debouncer
	vm.mu.RUnlock()
	if deb != nil {
		deb.Keystroke()
	}
}

// Send sends text to the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	vm.mu.RLock()
	view, deb := vm.view, vm.debouncer
	vm.mu.RUnlock()
	if view == nil {
		return ErrNoConversation
	}
	if deb != nil {
		deb.Sent()
	}
	_, err := view.Send(ctx, text)
	return err
}

// LoadMore fetches the next history page of the active conversation and
// returns how many messages it added.
func (vm *ViewModel) LoadMore(ctx context.Context) (int, error) {
	vm.mu.RLock()
	view := vm.view
	vm.mu.RUnlock()
	if view == nil {
		return 0, ErrNoConversation
	}
	page, err := view.LoadMore(ctx)
	return len(page), err
}

// RetryFailed resends every failed message of the active conversation.
func (vm *ViewModel) RetryFailed(ctx context.Context) (int, error) {
	cid := vm.ActiveID()
	if cid == "" {
		return 0, ErrNoConversation
	}
	n := 0
	for _, e := range vm.core.Outbox().Failed() {
		if e.Message.ConversationID != cid {
			continue
		}
		if _, err := vm.core.RetrySend(ctx, e.Message.ClientID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Search finds users by display name prefix, the signed-in user excluded.
func (vm *ViewModel) Search(ctx context.Context, prefix string) ([]chat.User, error) {
	users, err := vm.core.SearchUsers(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.ID != vm.self {
			out = append(out, u)
		}
	}
	return out, nil
}

// StartChat opens the one-to-one conversation with uid, creating it if
// needed.
func (vm *ViewModel) StartChat(ctx context.Context, uid string) (string, error) {
	conv, err := vm.core.StartChat(ctx, uid)
	if err != nil {
		return "", err
	}
	return conv.ID, vm.Open(ctx, conv.ID)
}

// FindByName returns the conversation whose title starts with name,
// ignoring case.
func (vm *ViewModel) FindByName(name string) (string, bool) {
	for _, c := range vm.Conversations() {
		if strings.HasPrefix(strings.ToLower(vm.Title(c)), strings.ToLower(name)) {
			return c.ID, true
		}
	}
	return "", false
}

// Conversations returns the conversation list, most recent first.
func (vm *ViewModel) Conversations() []chat.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Conversation returns a conversation of the list by id.
func (vm *ViewModel) Conversation(cid string) (chat.Conversation, bool) {
	for _, c := range vm.Conversations() {
		if c.ID == cid {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// TotalUnread is the unread count across all conversations.
func (vm *ViewModel) TotalUnread() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.totalUnread
}

// ListErr is non-nil while the conversation list is disconnected.
func (vm *ViewModel) ListErr() error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.listErr
}

// DisplayName resolves a user id against the cached profiles.
func (vm *ViewModel) DisplayName(uid string) string {
	if uid == vm.self {
		return "You"
	}
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if p, ok := vm.profiles[uid]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return uid
}

// Title names a conversation after its other participants.
func (vm *ViewModel) Title(c chat.Conversation) string {
	others := directory.Others(c, vm.self)
	names := make([]string, 0, len(others))
	for _, uid := range others {
		names = append(names, vm.DisplayName(uid))
	}
	sort.Strings(names)
	if len(names) == 0 {
		return c.ID
	}
	return strings.Join(names, ", ")
}

// ActiveID is the open conversation, empty when none.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}

// Messages returns the open conversation's messages, newest first.
func (vm *ViewModel) Messages() []chat.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// HasMore reports whether older history can be loaded.
func (vm *ViewModel) HasMore() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.hasMore
}

// TypingLabel describes who is typing in the open conversation.
func (vm *ViewModel) TypingLabel() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.typing
}

// StreamErr is non-nil while the open conversation is disconnected.
func (vm *ViewModel) StreamErr() error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.streamErr
}

// Peers returns the presence of the open conversation's other participants.
func (vm *ViewModel) Peers() []chat.User {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]chat.User, 0, len(vm.peers))
	for _, u := range vm.peers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State is the session state of the core.
func (vm *ViewModel) State() status.State {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state
}

// Close releases every subscription.
func (vm *ViewModel) Close() {
	vm.CloseConversation()
	vm.mu.Lock()
	d, off := vm.listDispose, vm.statusOff
	vm.listDispose, vm.statusOff = nil, nil
	vm.mu.Unlock()
	if d != nil {
		d()
	}
	if off != nil {
		off()
	}
}
