package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

// Subscription kinds, also used as metric labels.
const (
	kindMessages      = "messages"
	kindTyping        = "typing"
	kindUser          = "user"
	kindConversations = "conversations"
)

// shared is one store subscription serving every listener on the same key.
// All fields except listener delivery state are guarded by Core.mu.
type shared struct {
	key    string
	kind   string
	target docstore.Target

	// apply reduces a good snapshot into the cache.
	apply func(docstore.Snapshot)
	// render builds the listener payload from the cache. err is non-nil
	// while the subscription is disconnected.
	render func(err error) any
	// release drops the cache state owned by this subscription.
	release func()

	listeners map[int]*listener
	nextID    int
	seq       uint64
	hasData   bool
	err       error
	closed    bool
	dispose   docstore.Disposer
}

type listener struct {
	fn   func(any)
	mu   gosync.Mutex
	seq  uint64
	dead atomic.Bool
}

// deliver calls fn unless a newer payload was already delivered.
func (l *listener) deliver(seq uint64, payload any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead.Load() || seq <= l.seq {
		return
	}
	l.seq = seq
	l.fn(payload)
}

type delivery struct {
	l       *listener
	seq     uint64
	payload any
}

func run(ds []delivery) {
	for _, d := range ds {
		d.l.deliver(d.seq, d.payload)
	}
}

// fanoutLocked renders the current state once for every listener.
func (s *shared) fanoutLocked() []delivery {
	if len(s.listeners) == 0 {
		return nil
	}
	s.seq++
	payload := s.render(s.err)
	out := make([]delivery, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, delivery{l: l, seq: s.seq, payload: payload})
	}
	return out
}

// subscribe attaches fn to the shared subscription for key, opening it with
// build when it does not exist yet. The returned disposer acts once.
func (c *Core) subscribe(key string, build func() *shared, fn func(any)) (docstore.Disposer, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	sub, ok := c.subs[key]
	if !ok {
		sub = build()
		sub.key = key
		sub.listeners = make(map[int]*listener)
		c.subs[key] = sub
	}
	l := &listener{fn: fn}
	id := sub.nextID
	sub.nextID++
	sub.listeners[id] = l
	var initial []delivery
	if sub.hasData || sub.err != nil {
		initial = []delivery{{l: l, seq: sub.seq, payload: sub.render(sub.err)}}
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.SubscriptionOpened(sub.kind)
		d, err := c.store.Subscribe(c.ctx, sub.target, func(snap docstore.Snapshot) { c.onSnapshot(sub, snap) })
		if err != nil {
			run(c.abandon(sub, err))
			return nil, fmt.Errorf("subscribe %s: %w", sub.kind, err)
		}
		c.mu.Lock()
		if sub.closed {
			c.mu.Unlock()
			d()
		} else {
			sub.dispose = d
			c.mu.Unlock()
		}
	}
	run(initial)

	var once gosync.Once
	return func() {
		once.Do(func() {
			l.dead.Store(true)
			c.unsubscribe(sub, id)
		})
	}, nil
}

// abandon removes a subscription that could not be opened and tells any
// listener that joined in the meantime.
func (c *Core) abandon(sub *shared, err error) []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sub.key] == sub {
		delete(c.subs, sub.key)
	}
	sub.closed = true
	sub.err = disconnected(err)
	out := sub.fanoutLocked()
	for _, l := range sub.listeners {
		l.dead.Store(true)
	}
	if sub.release != nil {
		sub.release()
	}
	c.metrics.SubscriptionClosed(sub.kind)
	return out
}

func (c *Core) unsubscribe(sub *shared, id int) {
	c.mu.Lock()
	if _, ok := sub.listeners[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(sub.listeners, id)
	if len(sub.listeners) > 0 || sub.closed {
		c.mu.Unlock()
		return
	}
	sub.closed = true
	if c.subs[sub.key] == sub {
		delete(c.subs, sub.key)
	}
	if sub.release != nil {
		sub.release()
	}
	if sub.err != nil {
		c.failing--
	}
	d := sub.dispose
	c.mu.Unlock()

	c.metrics.SubscriptionClosed(sub.kind)
	if d != nil {
		d()
	}
}

// onSnapshot runs the reducer for a store snapshot and fans out the result.
func (c *Core) onSnapshot(sub *shared, snap docstore.Snapshot) {
	c.mu.Lock()
	if sub.closed {
		c.mu.Unlock()
		return
	}
	wasFailing := sub.err != nil
	if snap.Err != nil {
		c.logger.Warn("live subscription failed", zap.String("kind", sub.kind), zap.String("key", sub.key), zap.Error(snap.Err))
		c.metrics.SnapshotFailed(sub.kind)
		sub.err = disconnected(snap.Err)
		if !wasFailing {
			c.failing++
		}
	} else {
		sub.apply(snap)
		sub.hasData = true
		sub.err = nil
		if wasFailing {
			c.failing--
		}
	}
	failing := c.failing
	ds := sub.fanoutLocked()
	c.mu.Unlock()

	c.reportHealth(failing)
	run(ds)
}

// refresh re-renders a subscription after a local cache change.
func (c *Core) refreshLocked(key string) []delivery {
	sub, ok := c.subs[key]
	if !ok || (!sub.hasData && sub.err == nil) {
		return nil
	}
	return sub.fanoutLocked()
}

func disconnected(err error) error {
	if errors.Is(err, model.ErrDisconnected) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrDisconnected, err)
}
