// Package directory keeps the signed-in user's conversation list and the
// profiles of the people in it. A Directory is not safe for concurrent use;
// the synchronization core serialises access.
package directory

import (
	"errors"
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
)

// ErrAmbiguous is returned when a conversation has no single counterpart.
var ErrAmbiguous = errors.New("conversation has more than one other participant")

// PrefixEnd is appended to a search prefix to form the upper bound of the
// displayName range.
const PrefixEnd = "\uf8ff"

type Directory struct {
	self     string
	convs    []model.Conversation
	profiles map[string]model.User
}

func New(self string) *Directory {
	return &Directory{self: self, profiles: make(map[string]model.User)}
}

// Self is the signed-in user the directory belongs to.
func (d *Directory) Self() string { return d.self }

func less(a, b model.Conversation) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Replace swaps in a full snapshot of the conversation list.
func (d *Directory) Replace(convs []model.Conversation) {
	d.convs = slices.Clone(convs)
	slices.SortStableFunc(d.convs, less)
}

// Upsert inserts or replaces one conversation, keeping the order.
func (d *Directory) Upsert(c model.Conversation) {
	i := slices.IndexFunc(d.convs, func(x model.Conversation) bool { return x.ID == c.ID })
	if i >= 0 {
		if c.UpdatedAt.Before(d.convs[i].UpdatedAt) {
			c.UpdatedAt = d.convs[i].UpdatedAt
		}
		d.convs[i] = c
	} else {
		d.convs = append(d.convs, c)
	}
	slices.SortStableFunc(d.convs, less)
}

// List returns the conversations, most recently updated first.
func (d *Directory) List() []model.Conversation {
	return slices.Clone(d.convs)
}

func (d *Directory) Get(id string) (model.Conversation, bool) {
	for _, c := range d.convs {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// FindWith returns the two-person conversation between the owner and uid.
func (d *Directory) FindWith(uid string) (model.Conversation, bool) {
	for _, c := range d.convs {
		if len(c.Participants) == 2 && c.HasParticipant(d.self) && c.HasParticipant(uid) {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// ResetUnread zeroes uid's counter on conversation id locally.
func (d *Directory) ResetUnread(id, uid string) {
	for i := range d.convs {
		if d.convs[i].ID != id {
			continue
		}
		uc := make(map[string]int64, len(d.convs[i].UnreadCount))
		for k, v := range d.convs[i].UnreadCount {
			uc[k] = v
		}
		uc[uid] = 0
		d.convs[i].UnreadCount = uc
	}
}

// TotalUnread sums the owner's unread counters.
func (d *Directory) TotalUnread() int64 {
	var n int64
	for _, c := range d.convs {
		n += c.Unread(d.self)
	}
	return n
}

// SetProfile caches a user profile.
func (d *Directory) SetProfile(u model.User) {
	d.profiles[u.ID] = u
}

func (d *Directory) Profile(uid string) (model.User, bool) {
	u, ok := d.profiles[uid]
	return u, ok
}

// Missing returns the ids, in order and without duplicates, that have no
// cached profile.
func (d *Directory) Missing(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := d.profiles[id]; ok || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Counterparts lists every participant other than the owner across the list.
func (d *Directory) Counterparts() []string {
	var out []string
	for _, c := range d.convs {
		for _, p := range Others(c, d.self) {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// OtherParticipant returns the single participant of c who is not self.
func OtherParticipant(c model.Conversation, self string) (string, error) {
	others := Others(c, self)
	switch len(others) {
	case 1:
		return others[0], nil
	case 0:
		return "", &model.NotFoundError{Kind: "participant", ID: c.ID}
	default:
		return "", ErrAmbiguous
	}
}

// Others lists the participants of c other than self, in stored order.
func Others(c model.Conversation, self string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// SearchRange is the case-sensitive displayName range matching prefix.
func SearchRange(prefix string) (lo, hi string) {
	return prefix, prefix + PrefixEnd
}

// MatchesPrefix applies SearchRange to a single name.
func MatchesPrefix(name, prefix string) bool {
	lo, hi := SearchRange(prefix)
	return name >= lo && name <= hi
}
