// Package codec converts between stored documents and domain values. Field
// names are the persisted names shared with every other client of the store.
package codec

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

func str(f docstore.Fields, key string) string {
	s, _ := f[key].(string)
	return s
}

func MessageFromDoc(d docstore.Document) (model.Message, error) {
	f := d.Fields
	m := model.Message{
		ID:             d.ID,
		ClientID:       str(f, "clientId"),
		ConversationID: str(f, "conversationId"),
		SenderID:       str(f, "senderId"),
		ReceiverID:     str(f, "receiverId"),
		Text:           str(f, "text"),
		Kind:           model.MessageKind(str(f, "type")),
		Status:         model.StatusSent,
	}
	if m.ConversationID == "" {
		m.ConversationID = ConversationOf(d.Path)
	}
	if m.SenderID == "" {
		return model.Message{}, model.Invalid("senderId", fmt.Sprintf("message %s has no sender", d.ID))
	}
	if m.Kind == "" {
		m.Kind = model.KindText
	}
	if !m.Kind.Valid() {
		return model.Message{}, model.Invalid("type", fmt.Sprintf("unknown message type %q", m.Kind))
	}
	if s, ok := f["status"].(string); ok {
		st, err := model.ParseStatus(s)
		if err != nil {
			return model.Message{}, err
		}
		m.Status = st
	}
	m.Timestamp, _ = Time(f["timestamp"])
	if md, ok := asFields(f["metadata"]); ok {
		m.Attachment = attachmentFromFields(md)
	}
	return m, nil
}

// MessageFields is the persisted form of m. The id is the document id and is
// not stored.
// statusOrder is the persisted delivery order, earliest first.
var statusOrder = []string{string(model.StatusSent), string(model.StatusDelivered), string(model.StatusRead)}

// AdvanceStatus is the field value that moves a stored message status to st
// unless the stored one is already later. The comparison happens inside the
// store's commit, so concurrent writers cannot move a status backwards.
func AdvanceStatus(st model.Status) any {
	return docstore.Advance(string(st), statusOrder...)
}

func MessageFields(m model.Message) docstore.Fields {
	f := docstore.Fields{
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"receiverId":     m.ReceiverID,
		"text":           m.Text,
		"type":           string(m.Kind),
		"timestamp":      Millis(m.Timestamp),
		"status":         string(m.Status),
	}
	if m.ClientID != "" {
		f["clientId"] = m.ClientID
	}
	if m.Attachment != nil {
		f["metadata"] = attachmentFields(*m.Attachment)
	}
	return f
}

// summaryFields is the lastMessage snapshot embedded in a conversation.
func summaryFields(m model.Message) map[string]any {
	f := MessageFields(m)
	f["id"] = m.ID
	delete(f, "clientId")
	return map[string]any(f)
}

func attachmentFields(a model.Attachment) map[string]any {
	return map[string]any{
		"fileName": a.FileName,
		"fileUrl":  a.FileURL,
		"fileSize": a.FileSize,
		"mimeType": a.MimeType,
	}
}

func attachmentFromFields(f docstore.Fields) *model.Attachment {
	a := &model.Attachment{
		FileName: str(f, "fileName"),
		FileURL:  str(f, "fileUrl"),
		MimeType: str(f, "mimeType"),
	}
	a.FileSize, _ = docstore.Int64(f["fileSize"])
	return a
}

func asFields(v any) (docstore.Fields, bool) {
	switch m := v.(type) {
	case map[string]any:
		return docstore.Fields(m), true
	case docstore.Fields:
		return m, true
	default:
		return nil, false
	}
}

func stringList(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func ConversationFromDoc(d docstore.Document) (model.Conversation, error) {
	f := d.Fields
	c := model.Conversation{
		ID:           d.ID,
		Participants: stringList(f["participants"]),
		UnreadCount:  map[string]int64{},
	}
	if len(c.Participants) < 2 {
		return model.Conversation{}, model.Invalid("participants", fmt.Sprintf("conversation %s has %d participants", d.ID, len(c.Participants)))
	}
	if uc, ok := asFields(f["unreadCount"]); ok {
		for uid, v := range uc {
			if n, ok := docstore.Int64(v); ok {
				c.UnreadCount[uid] = n
			}
		}
	}
	if lm, ok := asFields(f["lastMessage"]); ok {
		id := str(lm, "id")
		m, err := MessageFromDoc(docstore.Document{Path: MessagePath(d.ID, id), ID: id, Fields: lm})
		if err == nil {
			c.LastMessage = &m
		}
	}
	c.CreatedAt, _ = Time(f["createdAt"])
	c.UpdatedAt, _ = Time(f["updatedAt"])
	return c, nil
}

func ConversationFields(c model.Conversation) docstore.Fields {
	unread := make(map[string]any, len(c.UnreadCount))
	for uid, n := range c.UnreadCount {
		unread[uid] = n
	}
	parts := make([]any, len(c.Participants))
	for i, p := range c.Participants {
		parts[i] = p
	}
	f := docstore.Fields{
		"participants": parts,
		"unreadCount":  unread,
		"createdAt":    Millis(c.CreatedAt),
		"updatedAt":    Millis(c.UpdatedAt),
		"lastMessage":  nil,
	}
	if c.LastMessage != nil {
		f["lastMessage"] = summaryFields(*c.LastMessage)
	}
	return f
}

// LastMessageUpdate is the conversation update applied with a new message.
func LastMessageUpdate(m model.Message) docstore.Fields {
	return docstore.Fields{
		"lastMessage": summaryFields(m),
		"updatedAt":   Millis(m.Timestamp),
	}
}

func UserFromDoc(d docstore.Document) (model.User, error) {
	f := d.Fields
	u := model.User{
		ID:          d.ID,
		DisplayName: str(f, "displayName"),
		Email:       str(f, "email"),
		PhotoURL:    str(f, "photoURL"),
		Presence:    model.Offline,
	}
	switch p := model.Presence(str(f, "status")); p {
	case model.Online, model.Offline:
		u.Presence = p
	case "":
	default:
		return model.User{}, model.Invalid("status", fmt.Sprintf("unknown presence %q", p))
	}
	if u.Presence == model.Offline {
		u.LastSeen, _ = Time(f["lastSeen"])
	}
	return u, nil
}

func UserFields(u model.User) docstore.Fields {
	return docstore.Fields{
		"displayName": u.DisplayName,
		"email":       u.Email,
		"photoURL":    u.PhotoURL,
		"status":      string(u.Presence),
		"lastSeen":    Millis(u.LastSeen),
	}
}

// PresenceUpdate moves a user to p at the given instant.
func PresenceUpdate(p model.Presence, at int64) docstore.Fields {
	f := docstore.Fields{"status": string(p), "lastSeen": nil}
	if p == model.Offline {
		f["lastSeen"] = at
	}
	return f
}

func TypingFromDoc(d docstore.Document) model.TypingMarker {
	t := model.TypingMarker{
		ConversationID: ConversationOf(d.Path),
		UserID:         str(d.Fields, "userId"),
	}
	if t.UserID == "" {
		t.UserID = d.ID
	}
	t.Timestamp, _ = Time(d.Fields["timestamp"])
	return t
}

func TypingFields(t model.TypingMarker) docstore.Fields {
	return docstore.Fields{
		"userId":    t.UserID,
		"timestamp": Millis(t.Timestamp),
	}
}
