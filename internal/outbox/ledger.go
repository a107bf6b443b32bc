// Package outbox tracks messages the local user has sent but the store has
// not yet confirmed.
package outbox

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// State of an outbox entry.
type State string

const (
	Sending State = "sending"
	Sent    State = "sent"
	Failed  State = "failed"
)

// ErrNotRetryable is returned when retrying an entry that has not failed.
var ErrNotRetryable = errors.New("outbox entry is not failed")

// Entry is one outgoing message. Message.ID is the document id reserved for
// it, reused on retry; Message.ClientID identifies the provisional entry.
type Entry struct {
	Message   model.Message
	State     State
	Err       string
	Attempts  int
	UpdatedAt time.Time
}

// Provisional is the optimistic message shown while the entry is in flight.
func (e Entry) Provisional() model.Message {
	m := e.Message
	m.ID = m.ClientID
	m.Status = model.StatusSent
	m.Failed = e.State == Failed
	return m
}

// Ledger holds entries in insertion order. Sent entries stay until Forget.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*Entry), now: time.Now}
}

func (l *Ledger) begin(m model.Message) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[m.ClientID]
	switch {
	case !ok:
		e = &Entry{Message: m}
		l.entries[m.ClientID] = e
		l.order = append(l.order, m.ClientID)
	case e.State != Failed:
		return Entry{}, ErrNotRetryable
	}
	e.State = Sending
	e.Err = ""
	e.Attempts++
	e.UpdatedAt = l.now()
	return *e, nil
}

func (l *Ledger) finish(clientID string, err error) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[clientID]
	if err != nil {
		e.State = Failed
		e.Err = err.Error()
	} else {
		e.State = Sent
	}
	e.UpdatedAt = l.now()
	return *e
}

// Get returns the entry for clientID.
func (l *Ledger) Get(clientID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Unconfirmed lists the entries of a conversation that are sending or failed.
func (l *Ledger) Unconfirmed(conversationID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, id := range l.order {
		e := l.entries[id]
		if e.State != Sent && e.Message.ConversationID == conversationID {
			out = append(out, *e)
		}
	}
	return out
}

// Failed lists every failed entry.
func (l *Ledger) Failed() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, id := range l.order {
		if e := l.entries[id]; e.State == Failed {
			out = append(out, *e)
		}
	}
	return out
}

// Forget drops an entry, typically once the store echo has replaced it or
// the user discards a failed message.
func (l *Ledger) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, clientID)
	l.order = slices.DeleteFunc(l.order, func(id string) bool { return id == clientID })
}

// Len is the number of tracked entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
