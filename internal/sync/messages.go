package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/blob"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/stream"
)

func messagesKey(cid string) string { return kindMessages + ":" + cid }

func (c *Core) liveQuery(cid string) docstore.Query {
	return docstore.Query{Collection: codec.Messages(cid), Limit: c.opts.LiveWindow}.Ordered("timestamp", true)
}

func (c *Core) decodeMessages(docs []docstore.Document) []model.Message {
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		m, err := codec.MessageFromDoc(d)
		if err != nil {
			c.logger.Warn("skipping malformed message", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// conversation returns a conversation from the directory or the store.
func (c *Core) conversation(ctx context.Context, cid string) (model.Conversation, error) {
	c.mu.Lock()
	if c.dir != nil {
		if conv, ok := c.dir.Get(cid); ok {
			c.mu.Unlock()
			return conv, nil
		}
	}
	c.mu.Unlock()

	d, err := c.store.Get(ctx, codec.ConversationPath(cid))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Conversation{}, &model.NotFoundError{Kind: "conversation", ID: cid}
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return codec.ConversationFromDoc(d)
}

func validateDraft(d model.Draft) (model.Draft, error) {
	if d.Kind == "" {
		d.Kind = model.KindText
	}
	if !d.Kind.Valid() {
		return d, model.Invalid("type", fmt.Sprintf("unknown message type %q", d.Kind))
	}
	d.Text = strings.TrimSpace(d.Text)
	switch {
	case d.Kind == model.KindText && d.Text == "":
		return d, model.Invalid("text", "message is empty")
	case d.Kind != model.KindText && d.Attachment == nil:
		return d, model.Invalid("metadata", "attachment required for "+string(d.Kind))
	}
	return d, nil
}

// stamp returns a send time strictly after the previous one from this client.
func (c *Core) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().Truncate(time.Millisecond)
	if !t.After(c.lastSent) {
		t = c.lastSent.Add(time.Millisecond)
	}
	c.lastSent = t
	return t
}

// SendMessage commits a message and the conversation summary in one batch:
// the message document, lastMessage, updatedAt and an unread increment for
// every other participant. A provisional entry is visible in open streams
// until the store echo replaces it. On failure the entry is marked failed
// and stays so until RetrySend.
func (c *Core) SendMessage(ctx context.Context, cid string, d model.Draft) (model.Message, error) {
	d, err := validateDraft(d)
	if err != nil {
		return model.Message{}, err
	}
	if cid == "" {
		return model.Message{}, model.Invalid("conversationId", "required")
	}
	self, err := c.self()
	if err != nil {
		return model.Message{}, err
	}
	conv, err := c.conversation(ctx, cid)
	if err != nil {
		return model.Message{}, err
	}
	if !conv.HasParticipant(self) {
		return model.Message{}, model.Invalid("conversationId", "sender is not a participant")
	}
	receiver, _ := directory.OtherParticipant(conv, self)

	m := model.Message{
		ID:             c.store.NewID(),
		ClientID:       uuid.NewString(),
		ConversationID: cid,
		SenderID:       self,
		ReceiverID:     receiver,
		Text:           d.Text,
		Kind:           d.Kind,
		Timestamp:      c.stamp(),
		Status:         model.StatusSent,
		Attachment:     d.Attachment,
	}
	e, err := c.sender.Send(ctx, m)
	c.metrics.Sent(err == nil)
	if err != nil {
		return e.Provisional(), err
	}
	return c.afterSend(ctx, e.Message), nil
}

// RetrySend re-commits a failed message under the document id reserved for
// it on the first attempt.
func (c *Core) RetrySend(ctx context.Context, clientID string) (model.Message, error) {
	if _, err := c.self(); err != nil {
		return model.Message{}, err
	}
	e, err := c.sender.Retry(ctx, clientID)
	c.metrics.Sent(err == nil)
	if err != nil {
		return e.Provisional(), err
	}
	return c.afterSend(ctx, e.Message), nil
}

// afterSend marks a committed message delivered.
func (c *Core) afterSend(ctx context.Context, m model.Message) model.Message {
	if err := c.UpdateMessageStatus(ctx, m.ConversationID, m.ID, model.StatusDelivered); err != nil {
		c.logger.Warn("could not mark message delivered", zap.String("message_id", m.ID), zap.Error(err))
		return m
	}
	m.Status = model.StatusDelivered
	return m
}

func (c *Core) commitMessage(ctx context.Context, m model.Message) error {
	conv, err := c.conversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	upd := codec.LastMessageUpdate(m)
	for _, p := range directory.Others(conv, m.SenderID) {
		upd["unreadCount."+p] = docstore.Increment(1)
	}
	return c.batch(ctx, "send", []docstore.Op{
		docstore.Set(codec.MessagePath(m.ConversationID, m.ID), codec.MessageFields(m)),
		docstore.Update(codec.ConversationPath(m.ConversationID), upd),
	})
}

// onOutboxChange mirrors outbox transitions into the open stream.
func (c *Core) onOutboxChange(e outbox.Entry) {
	cid := e.Message.ConversationID
	c.mu.Lock()
	st := c.streams[cid]
	if st != nil {
		switch e.State {
		case outbox.Sending, outbox.Failed:
			st.AddProvisional(e.Provisional())
		case outbox.Sent:
			st.Confirm(e.Message.ClientID, e.Message.ID)
		}
	}
	ds := c.refreshLocked(messagesKey(cid))
	c.mu.Unlock()

	if e.State == outbox.Sent {
		c.sender.Ledger().Forget(e.Message.ClientID)
	}
	run(ds)
}

// SendAttachment uploads a local file to chats/{conversationId}/{fileName}
// and sends a message referencing it.
func (c *Core) SendAttachment(ctx context.Context, cid, localPath string, kind model.MessageKind, caption string) (model.Message, error) {
	if kind != model.KindImage && kind != model.KindFile {
		return model.Message{}, model.Invalid("type", "attachments are image or file")
	}
	if c.blob == nil {
		return model.Message{}, fmt.Errorf("send attachment: no blob store configured")
	}
	if _, err := c.self(); err != nil {
		return model.Message{}, err
	}
	obj, err := c.blob.PutFile(ctx, blob.AttachmentKey(cid, localPath), localPath)
	if err != nil {
		return model.Message{}, fmt.Errorf("upload attachment: %w", err)
	}
	return c.SendMessage(ctx, cid, model.Draft{
		Text: caption,
		Kind: kind,
		Attachment: &model.Attachment{
			FileName: filepath.Base(localPath),
			FileURL:  obj.URL,
			FileSize: obj.Size,
			MimeType: obj.MimeType,
		},
	})
}

// UpdateMessageStatus advances a message's status. Lower or equal statuses
// are ignored both in the store and in the local cache; the store applies
// the rule within its commit.
func (c *Core) UpdateMessageStatus(ctx context.Context, cid, mid string, st model.Status) error {
	if st.Rank() == 0 {
		return model.Invalid("status", fmt.Sprintf("unknown status %q", st))
	}
	if _, err := c.self(); err != nil {
		return err
	}
	path := codec.MessagePath(cid, mid)
	d, err := c.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return &model.NotFoundError{Kind: "message", ID: mid}
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	cur, err := codec.MessageFromDoc(d)
	if err != nil {
		return err
	}
	next := model.Advance(cur.Status, st)
	if next != cur.Status {
		start := time.Now()
		err := c.store.Update(ctx, path, docstore.Fields{"status": codec.AdvanceStatus(st)})
		c.metrics.ObserveStore("status", start)
		if errors.Is(err, docstore.ErrNotFound) {
			return &model.NotFoundError{Kind: "message", ID: mid}
		}
		if err != nil {
			return fmt.Errorf("update message status: %w", err)
		}
	}
	c.applyStatus(cid, mid, next)
	return nil
}

func (c *Core) applyStatus(cid, mid string, st model.Status) {
	c.mu.Lock()
	var ds []delivery
	if s := c.streams[cid]; s != nil && s.ApplyStatus(mid, st) {
		ds = c.refreshLocked(messagesKey(cid))
	}
	c.mu.Unlock()
	run(ds)
	c.publish(bus.KindMessageStatus, StatusChange{ConversationID: cid, MessageID: mid, Status: st})
}

// MarkConversationRead zeroes uid's unread counter and marks every loaded
// message from someone else read, in one atomic batch. Without an open
// stream the latest window is read from the store. Only the signed-in user
// can mark a conversation they take part in.
func (c *Core) MarkConversationRead(ctx context.Context, cid, uid string) error {
	if cid == "" || uid == "" {
		return model.Invalid("conversationId", "conversation and user are required")
	}
	self, err := c.self()
	if err != nil {
		return err
	}
	if uid != self {
		return model.Invalid("userId", "can only mark conversations read for the signed-in user")
	}
	conv, err := c.conversation(ctx, cid)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(uid) {
		return model.Invalid("userId", fmt.Sprintf("%s is not a participant", uid))
	}

	c.mu.Lock()
	var unread []model.Message
	st := c.streams[cid]
	if st != nil {
		unread = st.UnreadFrom(uid)
	}
	c.mu.Unlock()

	if st == nil {
		docs, err := c.store.Query(ctx, c.liveQuery(cid))
		if err != nil {
			return fmt.Errorf("load unread messages: %w", err)
		}
		for _, m := range c.decodeMessages(docs) {
			if m.SenderID != uid && m.Status.Rank() < model.StatusRead.Rank() {
				unread = append(unread, m)
			}
		}
	}

	ops := []docstore.Op{docstore.Update(codec.ConversationPath(cid), docstore.Fields{"unreadCount." + uid: int64(0)})}
	for _, m := range unread {
		ops = append(ops, docstore.Update(codec.MessagePath(cid, m.ID), docstore.Fields{"status": string(model.StatusRead)}))
	}
	if err := c.batch(ctx, "mark_read", ops); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			// The missing document may be a message deleted since it was loaded.
			if _, gerr := c.store.Get(ctx, codec.ConversationPath(cid)); errors.Is(gerr, docstore.ErrNotFound) {
				return &model.NotFoundError{Kind: "conversation", ID: cid}
			}
		}
		return fmt.Errorf("mark conversation read: %w", err)
	}

	c.mu.Lock()
	if c.dir != nil {
		c.dir.ResetUnread(cid, uid)
	}
	if s := c.streams[cid]; s != nil {
		for _, m := range unread {
			s.ApplyStatus(m.ID, model.StatusRead)
		}
	}
	ds := append(c.refreshLocked(messagesKey(cid)), c.refreshLocked(conversationsKey(uid))...)
	c.mu.Unlock()
	run(ds)
	return nil
}

// LoadMore fetches the page of history older than everything loaded for an
// open conversation. It returns the page; an empty result with a nil error
// means history is exhausted or a load is already running.
func (c *Core) LoadMore(ctx context.Context, cid string) ([]model.Message, error) {
	c.mu.Lock()
	st := c.streams[cid]
	if st == nil {
		c.mu.Unlock()
		return nil, &model.NotFoundError{Kind: "open conversation", ID: cid}
	}
	if !st.HasMore() || c.loading[cid] {
		c.mu.Unlock()
		return nil, nil
	}
	c.loading[cid] = true
	cursor, limit := st.Cursor(), st.PageSize()
	c.mu.Unlock()

	q := docstore.Query{Collection: codec.Messages(cid), Limit: limit, StartAfter: cursor}.Ordered("timestamp", true)
	start := time.Now()
	docs, err := c.store.Query(ctx, q)
	c.metrics.ObserveStore("load_more", start)

	c.mu.Lock()
	if c.streams[cid] != st {
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("load more: %w", err)
		}
		return c.decodeMessages(docs), nil
	}
	delete(c.loading, cid)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("load more: %w", err)
	}
	msgs := c.decodeMessages(docs)
	st.AppendPage(msgs, limit)
	ds := c.refreshLocked(messagesKey(cid))
	c.mu.Unlock()
	run(ds)
	return msgs, nil
}

// HasMore reports whether an open conversation may have older history.
func (c *Core) HasMore(cid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.streams[cid]
	return st != nil && st.HasMore()
}

// SubscribeToMessages delivers the merged message list of a conversation on
// every change: the live window of the latest messages, history loaded with
// LoadMore and provisional sends.
func (c *Core) SubscribeToMessages(ctx context.Context, cid string, fn func(MessagesUpdate)) (docstore.Disposer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cid == "" {
		return nil, model.Invalid("conversationId", "required")
	}
	if _, err := c.self(); err != nil {
		return nil, err
	}
	return c.subscribe(messagesKey(cid), func() *shared {
		st := stream.New(cid, c.opts.LiveWindow, c.opts.PageSize)
		for _, e := range c.sender.Ledger().Unconfirmed(cid) {
			st.AddProvisional(e.Provisional())
		}
		c.streams[cid] = st
		return &shared{
			kind:   kindMessages,
			target: docstore.Target{Query: c.liveQuery(cid)},
			apply: func(snap docstore.Snapshot) {
				st.ReplaceLive(c.decodeMessages(snap.Docs))
				c.publish(bus.KindMessagesUpdated, cid)
			},
			render: func(err error) any {
				return MessagesUpdate{ConversationID: cid, Messages: st.Messages(), HasMore: st.HasMore(), Err: err}
			},
			release: func() {
				if c.streams[cid] == st {
					delete(c.streams, cid)
					delete(c.loading, cid)
				}
			},
		}
	}, func(p any) { fn(p.(MessagesUpdate)) })
}
