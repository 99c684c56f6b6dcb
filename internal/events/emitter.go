package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Emit when the recipient's shard has no free slot
	ErrQueueFull = errors.New("notification queue is full")
	// ErrEmitterClosed is returned once shutdown has begun
	ErrEmitterClosed = errors.New("notification emitter is closed")
)

const handleTimeout = 10 * time.Second

// Sink consumes validated events; the notification service implements it
type Sink interface {
	Create(ctx context.Context, event NotificationEvent) (*models.Notification, error)
}

// Emitter decouples producers from the notification pipeline. Events are sharded by
// recipient so that a single worker handles all events for a given user in order.
type Emitter struct {
	sink   Sink
	shards []chan NotificationEvent
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEmitter(sink Sink, workers, queueSize int, logger *zap.Logger) *Emitter {
	if workers < 1 {
		workers = 1
	}
	perShard := queueSize / workers
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]chan NotificationEvent, workers)
	for i := range shards {
		shards[i] = make(chan NotificationEvent, perShard)
	}
	return &Emitter{sink: sink, shards: shards, logger: logger}
}

// Emit validates the event and enqueues it without blocking. A full queue drops the event.
func (e *Emitter) Emit(event NotificationEvent) error {
	if err := event.Validate(); err != nil {
		e.logger.Warn("rejected notification event",
			zap.String("type", string(event.Type)),
			zap.Uint("recipient_id", event.RecipientID),
			zap.Error(err))
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEmitterClosed
	}

	select {
	case e.shardFor(event.RecipientID) <- event:
		return nil
	default:
		e.logger.Error("dropping notification event, queue full",
			zap.String("type", string(event.Type)),
			zap.Uint("recipient_id", event.RecipientID))
		return ErrQueueFull
	}
}

// Submit processes the event on the caller's goroutine and returns the stored notification
func (e *Emitter) Submit(ctx context.Context, event NotificationEvent) (*models.Notification, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return e.sink.Create(ctx, event)
}

// Run starts one worker per shard and blocks until ctx is cancelled.
// Events already queued are drained before Run returns.
func (e *Emitter) Run(ctx context.Context) error {
	for i, shard := range e.shards {
		e.wg.Add(1)
		go e.work(ctx, i, shard)
	}
	e.logger.Info("notification emitter started", zap.Int("workers", len(e.shards)))

	<-ctx.Done()
	e.Close()
	e.wg.Wait()
	e.logger.Info("notification emitter stopped")
	return nil
}

// Close stops accepting events. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, shard := range e.shards {
		close(shard)
	}
}

func (e *Emitter) shardFor(recipientID uint) chan NotificationEvent {
	return e.shards[int(recipientID%uint(len(e.shards)))]
}

func (e *Emitter) work(ctx context.Context, id int, queue <-chan NotificationEvent) {
	defer e.wg.Done()
	// keep draining after shutdown begins
	base := context.WithoutCancel(ctx)
	for event := range queue {
		e.handle(base, id, event)
	}
}

func (e *Emitter) handle(ctx context.Context, worker int, event NotificationEvent) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	n, err := e.sink.Create(ctx, event)
	if err != nil {
		e.logger.Error("failed to process notification event",
			zap.Int("worker", worker),
			zap.String("type", string(event.Type)),
			zap.Uint("recipient_id", event.RecipientID),
			zap.Error(err))
		return
	}
	e.logger.Debug("notification event processed",
		zap.Int("worker", worker),
		zap.String("notification_id", n.ID),
		zap.Int("group_count", n.GroupCount))
}
