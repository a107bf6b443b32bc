// Package stream merges the live window of a conversation with older pages
// loaded on demand. A Stream is not safe for concurrent use; the
// synchronization core serialises access.
package stream

import (
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
)

// Default sizes.
const (
	DefaultWindow   = 50
	DefaultPageSize = 20
)

type Stream struct {
	conversationID string
	window         int
	pageSize       int

	live        []model.Message
	history     []model.Message
	provisional []model.Message
	hasMore     bool
	gotLive     bool
}

func New(conversationID string, window, pageSize int) *Stream {
	if window <= 0 {
		window = DefaultWindow
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Stream{conversationID: conversationID, window: window, pageSize: pageSize, hasMore: true}
}

func (s *Stream) ConversationID() string { return s.conversationID }
func (s *Stream) Window() int            { return s.window }
func (s *Stream) PageSize() int          { return s.pageSize }

// HasMore reports whether older history may exist.
func (s *Stream) HasMore() bool { return s.hasMore }

func newer(a, b model.Message) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// known returns the highest status seen locally for id.
func (s *Stream) known(id string) model.Status {
	var st model.Status
	for _, list := range [][]model.Message{s.live, s.history} {
		for _, m := range list {
			if m.ID == id {
				st = model.Advance(st, m.Status)
			}
		}
	}
	return st
}

// ReplaceLive installs a live window snapshot. Provisional entries whose
// client id now appears in the store are retired, and no message moves back
// to an earlier status than one already seen.
func (s *Stream) ReplaceLive(msgs []model.Message) {
	next := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.Status = model.Advance(s.known(m.ID), m.Status)
		next[i] = m
	}
	if len(s.history) > 0 && len(next) > 0 {
		s.keepDisplaced(next)
	}
	s.live = next
	s.retire(next)
	if !s.gotLive && len(s.history) == 0 && len(msgs) < s.window {
		s.hasMore = false
	}
	s.gotLive = true
}

// keepDisplaced moves live entries that slid out past the bottom of the new
// window into history, so loaded pages stay contiguous. Entries missing from
// inside the new window were deleted and are dropped.
func (s *Stream) keepDisplaced(next []model.Message) {
	oldest := slices.MinFunc(next, func(a, b model.Message) int { return newer(b, a) })
	for _, m := range s.live {
		if newer(m, oldest) <= 0 {
			continue
		}
		has := func(x model.Message) bool { return x.ID == m.ID }
		if slices.ContainsFunc(next, has) || slices.ContainsFunc(s.history, has) {
			continue
		}
		s.history = append(s.history, m)
	}
}

// AppendPage adds an older page fetched with limit. A short page ends history.
func (s *Stream) AppendPage(msgs []model.Message, limit int) {
	for _, m := range msgs {
		m.Status = model.Advance(s.known(m.ID), m.Status)
		s.history = append(s.history, m)
	}
	s.retire(msgs)
	if len(msgs) < limit {
		s.hasMore = false
	}
}

func (s *Stream) retire(msgs []model.Message) {
	if len(s.provisional) == 0 {
		return
	}
	s.provisional = slices.DeleteFunc(s.provisional, func(p model.Message) bool {
		return slices.ContainsFunc(msgs, func(m model.Message) bool {
			return (m.ClientID != "" && m.ClientID == p.ClientID) || m.ID == p.ID
		})
	})
}

// Cursor is the id of the oldest stored message loaded, or "" when empty.
func (s *Stream) Cursor() string {
	msgs := s.stored()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

// stored merges live and history: live wins, dedup by id, newest first.
func (s *Stream) stored() []model.Message {
	out := make([]model.Message, 0, len(s.live)+len(s.history))
	seen := make(map[string]bool, len(s.live)+len(s.history))
	for _, m := range s.live {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	for _, m := range s.history {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, newer)
	return out
}

// Messages is the merged view including provisional entries, newest first.
// A stored message hides a confirmed provisional entry with the same id.
func (s *Stream) Messages() []model.Message {
	out := s.stored()
	n := len(out)
	for _, p := range s.provisional {
		if !slices.ContainsFunc(out[:n], func(m model.Message) bool { return m.ID == p.ID }) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, newer)
	return out
}

// Get finds a loaded message by id.
func (s *Stream) Get(id string) (model.Message, bool) {
	for _, m := range s.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

// AddProvisional shows an optimistic entry until its echo arrives.
func (s *Stream) AddProvisional(m model.Message) {
	s.provisional = slices.DeleteFunc(s.provisional, func(p model.Message) bool { return p.ClientID == m.ClientID })
	s.provisional = append(s.provisional, m)
}

// MarkFailed flags the provisional entry as not committed.
func (s *Stream) MarkFailed(clientID string, failed bool) {
	for i := range s.provisional {
		if s.provisional[i].ClientID == clientID {
			s.provisional[i].Failed = failed
		}
	}
}

// Confirm gives a provisional entry its committed id. The entry stays
// visible until the store delivers the message itself, even when the echo
// lands outside the live window.
func (s *Stream) Confirm(clientID, id string) {
	for i := range s.provisional {
		if s.provisional[i].ClientID == clientID {
			s.provisional[i].ID = id
			s.provisional[i].Failed = false
		}
	}
	if slices.ContainsFunc(s.stored(), func(m model.Message) bool { return m.ID == id }) {
		s.DropProvisional(clientID)
	}
}

// DropProvisional removes a provisional entry.
func (s *Stream) DropProvisional(clientID string) {
	s.provisional = slices.DeleteFunc(s.provisional, func(p model.Message) bool { return p.ClientID == clientID })
}

// ApplyStatus advances a loaded message's status. It reports false when the
// message is outside the loaded window; the update is then dropped.
func (s *Stream) ApplyStatus(id string, st model.Status) bool {
	found := false
	for _, list := range [][]model.Message{s.live, s.history} {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = model.Advance(list[i].Status, st)
				found = true
			}
		}
	}
	return found
}

// UnreadFrom lists loaded messages not sent by self that are not yet read.
func (s *Stream) UnreadFrom(self string) []model.Message {
	var out []model.Message
	for _, m := range s.stored() {
		if m.SenderID != self && m.Status.Rank() < model.StatusRead.Rank() {
			out = append(out, m)
		}
	}
	return out
}
