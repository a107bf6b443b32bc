package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/typing"
)

func typingKey(cid string) string { return kindTyping + ":" + cid }
func userKey(uid string) string   { return kindUser + ":" + uid }

// SetTypingStatus creates or deletes uid's typing marker in a conversation.
func (c *Core) SetTypingStatus(ctx context.Context, cid, uid string, isTyping bool) error {
	if cid == "" || uid == "" {
		return model.Invalid("typing", "conversation and user are required")
	}
	if _, err := c.self(); err != nil {
		return err
	}
	path := codec.TypingPath(cid, uid)
	op := docstore.Remove(path)
	if isTyping {
		op = docstore.Set(path, codec.TypingFields(model.TypingMarker{ConversationID: cid, UserID: uid, Timestamp: c.now()}))
	}
	if err := c.batch(ctx, "typing", []docstore.Op{op}); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// TypingDebouncer returns a debouncer writing the signed-in user's typing
// marker for one conversation. The input component owns it and must Close
// it when it goes away.
func (c *Core) TypingDebouncer(cid string) (*typing.Debouncer, error) {
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	return typing.New(func(ctx context.Context, on bool) error {
		return c.SetTypingStatus(ctx, cid, self, on)
	}, typing.DefaultTimeout, c.logger), nil
}

// SetPresence writes uid's online state. Going offline stamps lastSeen,
// going online clears it.
func (c *Core) SetPresence(ctx context.Context, uid string, online bool) error {
	if uid == "" {
		return model.Invalid("userId", "required")
	}
	p := model.Offline
	if online {
		p = model.Online
	}
	now := c.now()
	start := time.Now()
	err := c.store.Update(ctx, codec.UserPath(uid), codec.PresenceUpdate(p, now.UnixMilli()))
	c.metrics.ObserveStore("presence", start)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Foreground marks the signed-in user online and keeps the presence lease
// alive until Background or Disconnect.
func (c *Core) Foreground(ctx context.Context) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	// The lease has to exist before the user shows as online, or a sweep in
	// between marks them offline.
	if c.leases != nil {
		if err := c.leases.Renew(ctx, self, c.opts.LeaseTTL); err != nil {
			return fmt.Errorf("renew presence lease: %w", err)
		}
	}
	if err := c.SetPresence(ctx, self, true); err != nil {
		return err
	}
	if c.leases == nil {
		return nil
	}
	hbCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	prev := c.heartbeat
	c.heartbeat = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	go presence.Heartbeat(hbCtx, c.leases, self, c.opts.HeartbeatInterval, c.opts.LeaseTTL, c.logger)
	return nil
}

// Background stops the heartbeat and marks the signed-in user offline.
func (c *Core) Background(ctx context.Context) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	c.mu.Lock()
	hb := c.heartbeat
	c.heartbeat = nil
	c.mu.Unlock()
	if hb != nil {
		hb()
	}
	return c.SetPresence(ctx, self, false)
}

// SubscribeToTypingStatus delivers who is typing in a conversation.
func (c *Core) SubscribeToTypingStatus(ctx context.Context, cid string, fn func(TypingUpdate)) (docstore.Disposer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cid == "" {
		return nil, model.Invalid("conversationId", "required")
	}
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	return c.subscribe(typingKey(cid), func() *shared {
		t := presence.NewTyping(self)
		c.typing[cid] = t
		return &shared{
			kind:   kindTyping,
			target: docstore.Target{Query: docstore.Query{Collection: codec.Typing(cid)}},
			apply: func(snap docstore.Snapshot) {
				markers := make([]model.TypingMarker, 0, len(snap.Docs))
				for _, d := range snap.Docs {
					markers = append(markers, codec.TypingFromDoc(d))
				}
				if t.Replace(markers) {
					c.publish(bus.KindTyping, TypingUpdate{ConversationID: cid, Users: t.Users()})
				}
			},
			render: func(err error) any {
				users := t.Users()
				return TypingUpdate{ConversationID: cid, Users: users, Label: presence.Label(users, c.displayNameLocked), Err: err}
			},
			release: func() {
				if c.typing[cid] == t {
					delete(c.typing, cid)
				}
			},
		}
	}, func(p any) { fn(p.(TypingUpdate)) })
}

func (c *Core) displayNameLocked(uid string) string {
	if c.dir == nil {
		return ""
	}
	u, _ := c.dir.Profile(uid)
	return u.DisplayName
}

// SubscribeToUserStatus delivers a user's presence profile.
func (c *Core) SubscribeToUserStatus(ctx context.Context, uid string, fn func(UserUpdate)) (docstore.Disposer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, model.Invalid("userId", "required")
	}
	if _, err := c.self(); err != nil {
		return nil, err
	}
	return c.subscribe(userKey(uid), func() *shared {
		var cur model.User
		found := false
		return &shared{
			kind:   kindUser,
			target: docstore.Target{Doc: codec.UserPath(uid)},
			apply: func(snap docstore.Snapshot) {
				found = false
				if len(snap.Docs) == 0 {
					return
				}
				u, err := codec.UserFromDoc(snap.Docs[0])
				if err != nil {
					c.logger.Warn("skipping malformed user", zap.String("uid", uid), zap.Error(err))
					return
				}
				cur, found = u, true
				if c.presence.Set(u) {
					c.publish(bus.KindUserStatus, u)
				}
				if c.dir != nil {
					c.dir.SetProfile(u)
				}
			},
			render: func(err error) any {
				u := cur
				if !found {
					u = model.User{ID: uid, Presence: model.Offline}
				}
				return UserUpdate{User: u, Found: found, Err: err}
			},
		}
	}, func(p any) { fn(p.(UserUpdate)) })
}
