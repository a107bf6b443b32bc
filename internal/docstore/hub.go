package docstore

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
)

// EvalFunc computes the current snapshot of a target.
type EvalFunc func(ctx context.Context) Snapshot

// Hub fans commit notifications out to live subscriptions over the event bus.
// Every subscription re-evaluates its target on its own goroutine, so its
// snapshots are delivered in order, and several commits may collapse into a
// single snapshot. A snapshot identical to the previous one is not delivered.
type Hub struct {
	bus    *bus.Bus
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub publishing on b.
func NewHub(b *bus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{bus: b, logger: logger, ctx: ctx, cancel: cancel}
}

// ChangedKind prefixes the bus events announcing commits. The full kind is
// ChangedKind + collection + "|" and the payload is the collection path.
const ChangedKind = "docstore.changed|"

func changeKind(collection string) string {
	return ChangedKind + collection + "|"
}

// Notify announces a commit that touched the given document paths.
func (h *Hub) Notify(paths ...string) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		c, _ := Split(p)
		if seen[c] {
			continue
		}
		seen[c] = true
		h.bus.Emit(changeKind(c), c)
	}
}

// Watch starts a live subscription for t. ctx bounds the subscription in
// addition to the returned disposer.
func (h *Hub) Watch(ctx context.Context, t Target, eval EvalFunc, fn SnapshotFunc) Disposer {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)

	// One pending notification is enough: it is consumed before the target
	// is evaluated, so a dropped one is always covered by a later evaluation.
	ch, unsub := h.bus.Subscribe(changeKind(t.Collection()), 1)

	var closed atomic.Bool
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer unsub()
		defer stop()

		var last *Snapshot
		deliver := func() {
			snap := eval(ctx)
			if ctx.Err() != nil || closed.Load() {
				return
			}
			if last != nil && sameSnapshot(*last, snap) {
				return
			}
			last = &snap
			fn(snap)
		}

		deliver()
		for {
			select {
			case <-ch:
				deliver()
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}
}

// Close ends every subscription and waits for their goroutines.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

func sameSnapshot(a, b Snapshot) bool {
	if (a.Err == nil) != (b.Err == nil) {
		return false
	}
	if a.Err != nil {
		return errors.Is(b.Err, a.Err) || a.Err.Error() == b.Err.Error()
	}
	return reflect.DeepEqual(a.Docs, b.Docs)
}
