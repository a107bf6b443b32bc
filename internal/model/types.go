package model

import (
	"slices"
	"time"
)

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage || k == KindFile
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	FileName string
	FileURL  string
	FileSize int64
	MimeType string
}

// Message is a single chat message.
type Message struct {
	ID             string
	ClientID       string // set on provisional entries until the store echo replaces them
	ConversationID string
	SenderID       string
	ReceiverID     string
	Text           string
	Kind           MessageKind
	Timestamp      time.Time
	Status         Status
	Attachment     *Attachment
	Failed         bool // provisional send that did not commit
}

// Provisional reports whether m is a local optimistic entry.
func (m *Message) Provisional() bool {
	return m.ClientID != "" && m.ID == m.ClientID
}

// Draft is the caller-supplied part of an outgoing message.
type Draft struct {
	Text       string
	Kind       MessageKind
	Attachment *Attachment
}

// Conversation is the denormalized conversation summary.
type Conversation struct {
	ID           string
	Participants []string
	LastMessage  *Message
	UnreadCount  map[string]int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether uid takes part in c.
func (c *Conversation) HasParticipant(uid string) bool {
	return slices.Contains(c.Participants, uid)
}

// Unread returns uid's unread counter, never negative.
func (c *Conversation) Unread(uid string) int64 {
	n := c.UnreadCount[uid]
	if n < 0 {
		return 0
	}
	return n
}

// Presence is a user's online state.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// User is a presence profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
	PhotoURL    string
	Presence    Presence
	LastSeen    time.Time // zero while online
}

// WithPresence returns u moved to p, clearing or stamping LastSeen.
func (u User) WithPresence(p Presence, at time.Time) User {
	u.Presence = p
	if p == Online {
		u.LastSeen = time.Time{}
	} else {
		u.LastSeen = at
	}
	return u
}

// TypingMarker signals that UserID is typing in ConversationID.
type TypingMarker struct {
	ConversationID string
	UserID         string
	Timestamp      time.Time
}
