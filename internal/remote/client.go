// Package remote talks to chatsyncd over gRPC. Client implements
// docstore.Store so the synchronization core runs unchanged against a daemon.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

// Options configures Dial.
type Options struct {
	Addr             string // host:port or unix:///path
	CallTimeout      time.Duration
	MaxFailures      uint32
	BreakerTimeout   time.Duration
	ResubscribeDelay time.Duration
	DialOptions      []grpc.DialOption
}

// Client is a docstore.Store backed by a chatsyncd connection.
type Client struct {
	conn   *grpc.ClientConn
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	opts   Options

	mu    sync.RWMutex
	token string
}

func Dial(opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 15 * time.Second
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = time.Second
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts.DialOptions...)
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}

	st := gobreaker.Settings{
		Name:        "chatsyncd",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		conn:   conn,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
		opts:   opts,
	}, nil
}

func transient(err error) bool {
	switch grpcstatus.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return true
	}
	return false
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping reports whether the daemon answers. Any reply counts, including an
// authentication failure.
func (c *Client) Ping(ctx context.Context) error {
	in, err := structpb.NewStruct(map[string]any{"path": "users/_ping"})
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	err = api.FromStatus(c.conn.Invoke(cctx, api.MethodGet, in, new(structpb.Struct)))
	if errors.Is(err, model.ErrDisconnected) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// SetToken sets the bearer token sent with every call.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

// invoke performs one unary call under the per-call timeout and the breaker.
func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := c.cb.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(c.outgoing(ctx), c.opts.CallTimeout)
		defer cancel()
		out := new(structpb.Struct)
		if err := c.conn.Invoke(cctx, method, in, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %v", method, model.ErrDisconnected, err)
	}
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return out.(*structpb.Struct), nil
}

func (c *Client) NewID() string {
	return uuid.NewString()
}

func (c *Client) Get(ctx context.Context, docPath string) (docstore.Document, error) {
	in, err := structpb.NewStruct(map[string]any{"path": docPath})
	if err != nil {
		return docstore.Document{}, err
	}
	out, err := c.invoke(ctx, api.MethodGet, in)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s: %w", docPath, err)
	}
	docs := api.DecodeDocs(out)
	if len(docs) == 0 {
		return docstore.Document{}, fmt.Errorf("get %s: %w", docPath, docstore.ErrNotFound)
	}
	return docs[0], nil
}

func (c *Client) Put(ctx context.Context, collection, id string, f docstore.Fields) (string, error) {
	if id == "" {
		id = c.NewID()
	}
	if err := c.BatchWrite(ctx, []docstore.Op{docstore.Set(docstore.Join(collection, id), f)}); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) Update(ctx context.Context, docPath string, f docstore.Fields) error {
	return c.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, f)})
}

func (c *Client) Delete(ctx context.Context, docPath string) error {
	return c.BatchWrite(ctx, []docstore.Op{docstore.Remove(docPath)})
}

func (c *Client) Increment(ctx context.Context, docPath, field string, delta int64) error {
	return c.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, docstore.Fields{field: docstore.Increment(delta)})})
}

func (c *Client) BatchWrite(ctx context.Context, ops []docstore.Op) error {
	in, err := api.EncodeOps(ops)
	if err != nil {
		return err
	}
	if _, err := c.invoke(ctx, api.MethodBatchWrite, in); err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	return nil
}

func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	in, err := api.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, api.MethodQuery, in)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return api.DecodeDocs(out), nil
}

// Subscribe keeps a server stream open for t. When the stream breaks the
// callback gets a snapshot carrying model.ErrDisconnected and the stream is
// reopened after ResubscribeDelay.
func (c *Client) Subscribe(ctx context.Context, t docstore.Target, fn docstore.SnapshotFunc) (docstore.Disposer, error) {
	in, err := api.EncodeTarget(t)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	var closed sync.Once

	go func() {
		for ctx.Err() == nil {
			err := c.stream(ctx, in, fn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("subscription stream broken", zap.String("target", t.Key()), zap.Error(err))
			fn(docstore.Snapshot{Err: fmt.Errorf("%w: %v", model.ErrDisconnected, err)})
			select {
			case <-time.After(c.opts.ResubscribeDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { closed.Do(cancel) }, nil
}

func (c *Client) stream(ctx context.Context, in *structpb.Struct, fn docstore.SnapshotFunc) error {
	desc := &api.DocumentStoreDesc.Streams[0]
	st, err := c.conn.NewStream(c.outgoing(ctx), desc, api.MethodSubscribe)
	if err != nil {
		return err
	}
	if err := st.SendMsg(in); err != nil {
		return err
	}
	if err := st.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := st.RecvMsg(out); err != nil {
			return api.FromStatus(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg, ok := out.AsMap()["error"].(string); ok {
			fn(docstore.Snapshot{Err: serverError(msg)})
			continue
		}
		fn(docstore.Snapshot{Docs: api.DecodeDocs(out)})
	}
}

func serverError(msg string) error {
	if strings.Contains(msg, docstore.ErrNotFound.Error()) {
		return fmt.Errorf("%s: %w", msg, docstore.ErrNotFound)
	}
	return errors.New(msg)
}

var _ docstore.Store = (*Client)(nil)
