package sync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

func conversationsKey(uid string) string { return kindConversations + ":" + uid }

func listQuery(uid string) docstore.Query {
	return docstore.Query{Collection: codec.Conversations}.
		Where("participants", docstore.OpArrayContains, uid).
		Ordered("updatedAt", true)
}

func (c *Core) decodeConversations(docs []docstore.Document) []model.Conversation {
	out := make([]model.Conversation, 0, len(docs))
	for _, d := range docs {
		conv, err := codec.ConversationFromDoc(d)
		if err != nil {
			c.logger.Warn("skipping malformed conversation", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, conv)
	}
	return out
}

// user reads a profile from the store.
func (c *Core) user(ctx context.Context, uid string) (model.User, error) {
	d, err := c.store.Get(ctx, codec.UserPath(uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.User{}, &model.NotFoundError{Kind: "user", ID: uid}
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return codec.UserFromDoc(d)
}

// Profile returns a cached profile, reading it from the store on a miss.
func (c *Core) Profile(ctx context.Context, uid string) (model.User, error) {
	c.mu.Lock()
	if c.dir != nil {
		if u, ok := c.dir.Profile(uid); ok {
			c.mu.Unlock()
			return u, nil
		}
	}
	c.mu.Unlock()
	u, err := c.user(ctx, uid)
	if err != nil {
		return model.User{}, err
	}
	c.mu.Lock()
	if c.dir != nil {
		c.dir.SetProfile(u)
	}
	c.mu.Unlock()
	return u, nil
}

// CreateConversation creates a conversation with a zero unread counter for
// every participant. The signed-in user must be one of them.
func (c *Core) CreateConversation(ctx context.Context, participants []string) (model.Conversation, error) {
	self, err := c.self()
	if err != nil {
		return model.Conversation{}, err
	}
	var parts []string
	for _, p := range participants {
		if p != "" && !slices.Contains(parts, p) {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return model.Conversation{}, model.Invalid("participants", "at least two distinct participants are required")
	}
	if !slices.Contains(parts, self) {
		return model.Conversation{}, model.Invalid("participants", "creator must participate")
	}

	now := c.now()
	conv := model.Conversation{
		ID:           c.store.NewID(),
		Participants: parts,
		UnreadCount:  make(map[string]int64, len(parts)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, p := range parts {
		conv.UnreadCount[p] = 0
	}
	start := time.Now()
	_, err = c.store.Put(ctx, codec.Conversations, conv.ID, codec.ConversationFields(conv))
	c.metrics.ObserveStore("create_conversation", start)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.Truncate(time.Millisecond)
	conv.UpdatedAt = conv.CreatedAt

	c.mu.Lock()
	c.directoryLocked(self).Upsert(conv)
	ds := c.refreshLocked(conversationsKey(self))
	c.mu.Unlock()
	run(ds)
	c.logger.Info("conversation created", zap.String("conversation_id", conv.ID), zap.Strings("participants", parts))
	return conv, nil
}

// FindConversation looks up the two-person conversation between a and b.
func (c *Core) FindConversation(ctx context.Context, a, b string) (model.Conversation, bool, error) {
	if a == "" || b == "" {
		return model.Conversation{}, false, model.Invalid("participants", "both users are required")
	}
	docs, err := c.store.Query(ctx, docstore.Query{Collection: codec.Conversations}.Where("participants", docstore.OpArrayContains, a))
	if err != nil {
		return model.Conversation{}, false, fmt.Errorf("find conversation: %w", err)
	}
	for _, conv := range c.decodeConversations(docs) {
		if len(conv.Participants) == 2 && conv.HasParticipant(b) {
			return conv, true, nil
		}
	}
	return model.Conversation{}, false, nil
}

// StartChat returns the conversation with otherUID, creating it when none
// exists yet.
func (c *Core) StartChat(ctx context.Context, otherUID string) (model.Conversation, error) {
	self, err := c.self()
	if err != nil {
		return model.Conversation{}, err
	}
	if otherUID == "" || otherUID == self {
		return model.Conversation{}, model.Invalid("userId", "cannot start a chat with yourself")
	}
	if _, err := c.Profile(ctx, otherUID); err != nil {
		return model.Conversation{}, err
	}

	c.mu.Lock()
	conv, ok := c.directoryLocked(self).FindWith(otherUID)
	c.mu.Unlock()
	if ok {
		return conv, nil
	}
	conv, ok, err = c.FindConversation(ctx, self, otherUID)
	if err != nil {
		return model.Conversation{}, err
	}
	if ok {
		return conv, nil
	}
	return c.CreateConversation(ctx, []string{self, otherUID})
}

// SearchUsers finds users whose display name starts with prefix,
// case-sensitively. The signed-in user is never part of the result.
func (c *Core) SearchUsers(ctx context.Context, prefix string) ([]model.User, error) {
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, model.Invalid("query", "search prefix is empty")
	}
	lo, hi := directory.SearchRange(prefix)
	q := docstore.Query{Collection: codec.Users, Limit: c.opts.SearchLimit + 1}.
		Where("displayName", docstore.OpGreaterEqual, lo).
		Where("displayName", docstore.OpLessEqual, hi).
		Ordered("displayName", false)
	docs, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	var out []model.User
	c.mu.Lock()
	dir := c.directoryLocked(self)
	for _, d := range docs {
		if d.ID == self {
			continue
		}
		u, err := codec.UserFromDoc(d)
		if err != nil {
			c.logger.Warn("skipping malformed user", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		dir.SetProfile(u)
		out = append(out, u)
		if len(out) == c.opts.SearchLimit {
			break
		}
	}
	c.mu.Unlock()
	return out, nil
}

// LoadConversations hydrates the conversation list and the profile of
// every other participant. A missing profile aborts hydration with a
// not-found error.
func (c *Core) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	docs, err := c.store.Query(ctx, listQuery(self))
	c.metrics.ObserveStore("list_conversations", start)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	convs := c.decodeConversations(docs)

	c.mu.Lock()
	missing := c.directoryLocked(self).Missing(counterparts(convs, self))
	c.mu.Unlock()

	profiles := make([]model.User, 0, len(missing))
	for _, uid := range missing {
		u, err := c.user(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("hydrate conversations: %w", err)
		}
		profiles = append(profiles, u)
	}

	c.mu.Lock()
	dir := c.directoryLocked(self)
	for _, u := range profiles {
		dir.SetProfile(u)
	}
	dir.Replace(convs)
	list := dir.List()
	ds := c.refreshLocked(conversationsKey(self))
	c.mu.Unlock()
	run(ds)
	return list, nil
}

func counterparts(convs []model.Conversation, self string) []string {
	var out []string
	for _, conv := range convs {
		out = append(out, directory.Others(conv, self)...)
	}
	return out
}

// Conversations returns the cached list, most recently updated first.
func (c *Core) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dir == nil {
		return nil
	}
	return c.dir.List()
}

// SubscribeToConversationList delivers the conversation list of uid, who
// must be the signed-in user. Profiles missing from the cache are fetched
// in the background and delivered with a later update.
func (c *Core) SubscribeToConversationList(ctx context.Context, uid string, fn func(ConversationsUpdate)) (docstore.Disposer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	if uid != self {
		return nil, model.Invalid("userId", "only the signed-in user's conversations can be watched")
	}
	key := conversationsKey(uid)
	return c.subscribe(key, func() *shared {
		return &shared{
			kind:   kindConversations,
			target: docstore.Target{Query: listQuery(uid)},
			apply: func(snap docstore.Snapshot) {
				dir := c.directoryLocked(uid)
				dir.Replace(c.decodeConversations(snap.Docs))
				if missing := dir.Missing(dir.Counterparts()); len(missing) > 0 {
					go c.fetchProfiles(uid, missing)
				}
				c.publish(bus.KindConversations, uid)
			},
			render: func(err error) any {
				u := ConversationsUpdate{Err: err, Profiles: map[string]model.User{}}
				dir := c.dir
				if dir == nil || dir.Self() != uid {
					return u
				}
				u.Conversations = dir.List()
				u.TotalUnread = dir.TotalUnread()
				for _, p := range dir.Counterparts() {
					if prof, ok := dir.Profile(p); ok {
						u.Profiles[p] = prof
					}
				}
				return u
			},
		}
	}, func(p any) { fn(p.(ConversationsUpdate)) })
}

func (c *Core) fetchProfiles(self string, uids []string) {
	fetched := make(map[string]model.User, len(uids))
	for _, uid := range uids {
		u, err := c.user(c.ctx, uid)
		if err != nil {
			c.logger.Warn("could not load participant profile", zap.String("uid", uid), zap.Error(err))
			continue
		}
		fetched[uid] = u
	}
	if len(fetched) == 0 {
		return
	}
	c.mu.Lock()
	if c.dir == nil || c.dir.Self() != self {
		c.mu.Unlock()
		return
	}
	for _, uid := range slices.Sorted(maps.Keys(fetched)) {
		if _, ok := c.dir.Profile(uid); !ok {
			c.dir.SetProfile(fetched[uid])
		}
	}
	ds := c.refreshLocked(conversationsKey(self))
	c.mu.Unlock()
	run(ds)
}
