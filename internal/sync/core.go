// Package sync is the client-side synchronization core. It owns every live
// subscription, reconciles optimistic local writes with store snapshots and
// exposes the chat operations used by the clients.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/blob"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/stream"
)

var errClosed = errors.New("sync core closed")

// Identity resolves the signed-in user. *identity.Provider implements it.
type Identity interface {
	RequireUser() (identity.User, error)
}

// Options tunes the core. Zero values take the defaults.
type Options struct {
	LiveWindow        int           // messages in the live window, default 50
	PageSize          int           // history page size, default 20
	SearchLimit       int           // user search results, default 20
	HeartbeatInterval time.Duration // presence lease renewal, default 30s
	LeaseTTL          time.Duration // presence lease lifetime, default 90s
}

func (o Options) withDefaults() Options {
	if o.LiveWindow <= 0 {
		o.LiveWindow = stream.DefaultWindow
	}
	if o.PageSize <= 0 {
		o.PageSize = stream.DefaultPageSize
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 20
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 3 * o.HeartbeatInterval
	}
	return o
}

// Deps are the collaborators of the core. Store and Identity are required.
type Deps struct {
	Store    docstore.Store
	Identity Identity
	Blob     blob.Store       // attachments; nil disables SendAttachment
	Leases   presence.Renewer // presence heartbeat; nil disables it
	Bus      *bus.Bus
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Options  Options
}

// Core is safe for concurrent use. Cache mutations happen under mu; listener
// callbacks always run after mu is released.
type Core struct {
	store    docstore.Store
	identity Identity
	blob     blob.Store
	leases   presence.Renewer
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	status   *status.Machine
	sender   *outbox.Sender

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu       gosync.Mutex
	closed   bool
	subs     map[string]*shared
	failing  int
	dir      *directory.Directory
	streams  map[string]*stream.Stream
	typing   map[string]*presence.Typing
	presence *presence.Cache
	loading  map[string]bool
	lastSent time.Time

	heartbeat context.CancelFunc
	list      docstore.Disposer
}

// New creates a core. It opens no subscription until asked to.
func New(d Deps) (*Core, error) {
	if d.Store == nil || d.Identity == nil {
		return nil, fmt.Errorf("sync core: store and identity are required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		store:    d.Store,
		identity: d.Identity,
		blob:     d.Blob,
		leases:   d.Leases,
		bus:      d.Bus,
		logger:   d.Logger,
		metrics:  d.Metrics,
		opts:     d.Options.withDefaults(),
		status:   status.NewMachine(d.Bus),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		subs:     make(map[string]*shared),
		streams:  make(map[string]*stream.Stream),
		typing:   make(map[string]*presence.Typing),
		presence: presence.NewCache(),
		loading:  make(map[string]bool),
	}
	c.sender = outbox.NewSender(outbox.NewLedger(), outbox.CommitFunc(c.commitMessage), d.Bus, d.Logger)
	c.sender.OnChange = c.onOutboxChange
	return c, nil
}

// Bus is the event bus the core publishes on.
func (c *Core) Bus() *bus.Bus { return c.bus }

// Status returns the session state.
func (c *Core) Status() status.State { return c.status.Current() }

// Outbox exposes the optimistic send ledger.
func (c *Core) Outbox() *outbox.Ledger { return c.sender.Ledger() }

// Connect hydrates the conversation list for the signed-in user and keeps
// it live until Disconnect.
func (c *Core) Connect(ctx context.Context) error {
	u, err := c.identity.RequireUser()
	if err != nil {
		return err
	}
	if cur := c.status.Current(); cur != status.SignedOut && cur != status.Error {
		c.Disconnect()
	}
	if err := c.status.Ensure(status.Connecting); err != nil {
		return err
	}
	c.logger.Info("connecting", zap.String("uid", u.UID))
	_ = c.status.Transition(status.Syncing)

	if _, err := c.LoadConversations(ctx); err != nil {
		_ = c.status.Transition(status.Error)
		return fmt.Errorf("connect: %w", err)
	}
	d, err := c.SubscribeToConversationList(ctx, u.UID, func(ConversationsUpdate) {})
	if err != nil {
		_ = c.status.Transition(status.Error)
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	prev := c.list
	c.list = d
	failing := c.failing
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	if failing > 0 {
		_ = c.status.Ensure(status.Degraded)
	} else {
		_ = c.status.Ensure(status.Ready)
	}
	return nil
}

// Disconnect releases the core-owned subscriptions and stops the presence
// heartbeat. Subscriptions held by callers stay open.
func (c *Core) Disconnect() {
	c.mu.Lock()
	list := c.list
	c.list = nil
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()
	if list != nil {
		list()
	}
	if hb != nil {
		hb()
	}
	_ = c.status.Ensure(status.SignedOut)
}

// Close ends every subscription. The core is unusable afterwards.
func (c *Core) Close() {
	c.Disconnect()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var disposers []docstore.Disposer
	for key, sub := range c.subs {
		sub.closed = true
		for _, l := range sub.listeners {
			l.dead.Store(true)
		}
		if sub.dispose != nil {
			disposers = append(disposers, sub.dispose)
		}
		delete(c.subs, key)
		c.metrics.SubscriptionClosed(sub.kind)
	}
	c.mu.Unlock()
	for _, d := range disposers {
		d()
	}
	c.cancel()
}

// self returns the signed-in user id and makes sure the directory belongs
// to that user.
func (c *Core) self() (string, error) {
	u, err := c.identity.RequireUser()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.directoryLocked(u.UID)
	c.mu.Unlock()
	return u.UID, nil
}

func (c *Core) directoryLocked(uid string) *directory.Directory {
	if c.dir == nil || c.dir.Self() != uid {
		c.dir = directory.New(uid)
	}
	return c.dir
}

func (c *Core) reportHealth(failing int) {
	switch cur := c.status.Current(); {
	case failing > 0 && (cur == status.Ready || cur == status.Syncing):
		_ = c.status.Ensure(status.Degraded)
	case failing == 0 && cur == status.Degraded:
		_ = c.status.Ensure(status.Ready)
	}
}

func (c *Core) publish(kind string, payload any) {
	c.bus.Emit(kind, payload)
}

// batch commits ops and records the store latency.
func (c *Core) batch(ctx context.Context, op string, ops []docstore.Op) error {
	start := time.Now()
	err := c.store.BatchWrite(ctx, ops)
	c.metrics.ObserveStore(op, start)
	return err
}
