package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

// Committer writes a message to the store atomically with its conversation
// summary.
type Committer interface {
	Commit(ctx context.Context, m model.Message) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(ctx context.Context, m model.Message) error

func (f CommitFunc) Commit(ctx context.Context, m model.Message) error { return f(ctx, m) }

// SendResult is the payload of message.sent events.
type SendResult struct {
	ClientID       string
	MessageID      string
	ConversationID string
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	ClientID       string
	ConversationID string
	Error          string
}

// Sender commits outgoing messages through the ledger. Sending is
// synchronous: the caller gets the commit error, and a failed entry stays
// failed until Retry.
type Sender struct {
	ledger    *Ledger
	committer Committer
	bus       *bus.Bus
	logger    *zap.Logger

	// OnChange observes every entry transition, outside any lock.
	OnChange func(Entry)
}

// NewSender creates a new outbox sender.
func NewSender(ledger *Ledger, c Committer, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{ledger: ledger, committer: c, bus: b, logger: logger}
}

func (s *Sender) Ledger() *Ledger { return s.ledger }

// Send commits m. m.ClientID and m.ID must be set.
func (s *Sender) Send(ctx context.Context, m model.Message) (Entry, error) {
	if m.ClientID == "" || m.ID == "" {
		return Entry{}, model.Invalid("message", "missing client or document id")
	}
	e, err := s.ledger.begin(m)
	if err != nil {
		return Entry{}, err
	}
	return s.commit(ctx, e)
}

// Retry re-sends a failed entry with the same document id.
func (s *Sender) Retry(ctx context.Context, clientID string) (Entry, error) {
	prev, ok := s.ledger.Get(clientID)
	if !ok {
		return Entry{}, &model.NotFoundError{Kind: "outbox entry", ID: clientID}
	}
	e, err := s.ledger.begin(prev.Message)
	if err != nil {
		return Entry{}, err
	}
	return s.commit(ctx, e)
}

func (s *Sender) commit(ctx context.Context, e Entry) (Entry, error) {
	s.notify(e)
	m := e.Message

	err := s.committer.Commit(ctx, m)
	e = s.ledger.finish(m.ClientID, err)
	s.notify(e)

	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err),
			zap.String("client_id", m.ClientID), zap.Int("attempt", e.Attempts))
		s.publish(bus.KindMessageFailed, SendFailure{ClientID: m.ClientID, ConversationID: m.ConversationID, Error: err.Error()})
		return e, fmt.Errorf("send message: %w", err)
	}

	s.logger.Info("message sent", zap.String("client_id", m.ClientID), zap.String("message_id", m.ID))
	s.publish(bus.KindMessageSent, SendResult{ClientID: m.ClientID, MessageID: m.ID, ConversationID: m.ConversationID})
	return e, nil
}

func (s *Sender) notify(e Entry) {
	if s.OnChange != nil {
		s.OnChange(e)
	}
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
