// Package notify forwards message events from the bus to a Kafka topic so
// that out-of-process consumers (push gateways, audit) can follow the chat
// without holding a live store subscription.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	core "github.com/matheus3301/chatsync/internal/sync"
)

// Writer is the part of *kafka.Writer the bridge needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns an asynchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// Record is the JSON value of every published message.
type Record struct {
	Kind           string `json:"kind"`
	At             int64  `json:"at"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
	Status         string `json:"status,omitempty"`
	Collection     string `json:"collection,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Encode maps a bus event to a record keyed by conversation. It reports
// false for events the bridge does not forward.
func Encode(evt bus.Event) (string, Record, bool) {
	r := Record{Kind: evt.Kind, At: evt.Timestamp.UnixMilli()}
	switch p := evt.Payload.(type) {
	case outbox.SendResult:
		r.ConversationID, r.MessageID, r.ClientID = p.ConversationID, p.MessageID, p.ClientID
	case outbox.SendFailure:
		r.ConversationID, r.ClientID, r.Error = p.ConversationID, p.ClientID, p.Error
	case core.StatusChange:
		r.ConversationID, r.MessageID, r.Status = p.ConversationID, p.MessageID, string(p.Status)
	case string:
		if !strings.HasPrefix(evt.Kind, docstore.ChangedKind) {
			return "", Record{}, false
		}
		r.Kind = strings.TrimSuffix(docstore.ChangedKind, "|")
		r.Collection = p
		key := p
		if parts := strings.Split(p, "/"); len(parts) >= 2 && parts[0] == "conversations" {
			r.ConversationID = parts[1]
			key = parts[1]
		}
		return key, r, true
	default:
		return "", Record{}, false
	}
	return r.ConversationID, r, true
}

// Bridge publishes bus events under a set of namespaces.
type Bridge struct {
	writer     Writer
	bus        *bus.Bus
	namespaces []string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	buffer     int
}

// Client namespaces: outcomes of sends and status changes made by this
// process.
var ClientNamespaces = []string{bus.KindMessageSent, bus.KindMessageFailed, bus.KindMessageStatus}

// StoreNamespaces is the commit feed of a store hosted in this process.
var StoreNamespaces = []string{docstore.ChangedKind + "conversations/"}

func NewBridge(w Writer, b *bus.Bus, namespaces []string, logger *zap.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{writer: w, bus: b, namespaces: namespaces, logger: logger, metrics: m, buffer: 256}
}

// Run forwards events until ctx is done. Publishing errors are logged and
// counted; the event is dropped.
func (br *Bridge) Run(ctx context.Context) {
	events := make(chan bus.Event, br.buffer)
	for _, ns := range br.namespaces {
		ch, unsub := br.bus.Subscribe(ns, br.buffer)
		defer unsub()
		go func() {
			for {
				select {
				case evt := <-ch:
					select {
					case events <- evt:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	br.logger.Info("notification bridge started", zap.Strings("namespaces", br.namespaces))
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			if err := br.publish(ctx, evt); err != nil && ctx.Err() == nil {
				br.logger.Warn("publish notification", zap.String("kind", evt.Kind), zap.Error(err))
			}
		}
	}
}

func (br *Bridge) publish(ctx context.Context, evt bus.Event) error {
	key, rec, ok := Encode(evt)
	if !ok {
		return nil
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Kind, err)
	}
	err = br.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: evt.Timestamp})
	br.metrics.Notified(err == nil)
	return err
}

// Close flushes and closes the writer.
func (br *Bridge) Close() error {
	return br.writer.Close()
}
