package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

// ViewHandlers receive the updates of an open conversation. Nil handlers
// are skipped.
type ViewHandlers struct {
	Messages func(MessagesUpdate)
	Typing   func(TypingUpdate)
	User     func(UserUpdate)
	// MarkRead marks incoming messages read whenever the view receives
	// messages from someone else that are not read yet.
	MarkRead bool
}

// ConversationView holds the live subscriptions of one open conversation.
type ConversationView struct {
	core         *Core
	Conversation model.Conversation
	Self         string

	disposers []docstore.Disposer
	once      gosync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	marking   atomic.Bool
}

// OpenConversation subscribes to the messages, the typing markers and the
// presence of every other participant of a conversation.
func (c *Core) OpenConversation(ctx context.Context, cid string, h ViewHandlers) (*ConversationView, error) {
	self, err := c.self()
	if err != nil {
		return nil, err
	}
	conv, err := c.conversation(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(self) {
		return nil, model.Invalid("conversationId", "not a participant")
	}

	vctx, cancel := context.WithCancel(c.ctx)
	v := &ConversationView{core: c, Conversation: conv, Self: self, ctx: vctx, cancel: cancel}

	onMessages := func(u MessagesUpdate) {
		if h.MarkRead && u.Err == nil {
			v.markReadIfNeeded(u.Messages)
		}
		if h.Messages != nil {
			h.Messages(u)
		}
	}
	d, err := c.SubscribeToMessages(ctx, cid, onMessages)
	if err != nil {
		v.Close()
		return nil, err
	}
	v.disposers = append(v.disposers, d)

	d, err = c.SubscribeToTypingStatus(ctx, cid, func(u TypingUpdate) {
		if h.Typing != nil {
			h.Typing(u)
		}
	})
	if err != nil {
		v.Close()
		return nil, err
	}
	v.disposers = append(v.disposers, d)

	for _, uid := range directory.Others(conv, self) {
		d, err := c.SubscribeToUserStatus(ctx, uid, func(u UserUpdate) {
			if h.User != nil {
				h.User(u)
			}
		})
		if err != nil {
			v.Close()
			return nil, err
		}
		v.disposers = append(v.disposers, d)
	}
	return v, nil
}

func (v *ConversationView) markReadIfNeeded(msgs []model.Message) {
	pending := false
	for _, m := range msgs {
		if m.SenderID != v.Self && !m.Provisional() && m.Status.Rank() < model.StatusRead.Rank() {
			pending = true
			break
		}
	}
	if !pending || !v.marking.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer v.marking.Store(false)
		if err := v.core.MarkConversationRead(v.ctx, v.Conversation.ID, v.Self); err != nil && v.ctx.Err() == nil {
			v.core.logger.Warn("mark read failed", zap.String("conversation_id", v.Conversation.ID), zap.Error(err))
		}
	}()
}

// Send sends a text message in the conversation.
func (v *ConversationView) Send(ctx context.Context, text string) (model.Message, error) {
	return v.core.SendMessage(ctx, v.Conversation.ID, model.Draft{Text: text, Kind: model.KindText})
}

// LoadMore loads the next page of history.
func (v *ConversationView) LoadMore(ctx context.Context) ([]model.Message, error) {
	return v.core.LoadMore(ctx, v.Conversation.ID)
}

// Close releases every subscription of the view. Safe to call more than once.
func (v *ConversationView) Close() {
	v.once.Do(func() {
		v.cancel()
		for _, d := range v.disposers {
			d()
		}
	})
}
