package sync

import "github.com/matheus3301/chatsync/internal/model"

// The payloads below are full snapshots: each one replaces the previous.
// Err is non-nil while the live subscription is disconnected; it wraps
// model.ErrDisconnected and the rest of the payload is the last known state.

// MessagesUpdate is the merged message list of a conversation, newest first.
type MessagesUpdate struct {
	ConversationID string
	Messages       []model.Message
	HasMore        bool
	Err            error
}

// TypingUpdate lists who is typing in a conversation, the local user excluded.
type TypingUpdate struct {
	ConversationID string
	Users          []string
	Label          string
	Err            error
}

// UserUpdate is the presence profile of one user. Found is false when the
// profile document does not exist.
type UserUpdate struct {
	User  model.User
	Found bool
	Err   error
}

// ConversationsUpdate is the signed-in user's conversation list, most
// recently updated first, with the cached profiles of the other participants.
type ConversationsUpdate struct {
	Conversations []model.Conversation
	Profiles      map[string]model.User
	TotalUnread   int64
	Err           error
}

// StatusChange is the payload of message.status_changed events.
type StatusChange struct {
	ConversationID string
	MessageID      string
	Status         model.Status
}
