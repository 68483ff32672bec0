package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

// Publisher emits dialog lifecycle events to the events queue and to
// in-process listeners. A nil *Publisher drops everything; with a nil
// queue manager only listeners receive events.
type Publisher struct {
	queues   queue.Manager
	source   string
	queueRef string

	mu        sync.RWMutex
	listeners map[string]chan Envelope
}

// NewPublisher creates a publisher sending to the queue registered as queueRef.
func NewPublisher(queues queue.Manager, source, queueRef string) *Publisher {
	return &Publisher{
		queues:    queues,
		source:    source,
		queueRef:  queueRef,
		listeners: make(map[string]chan Envelope),
	}
}

// Emit wraps data in an Envelope for dialogID and publishes it.
func (p *Publisher) Emit(ctx context.Context, eventType EventType, dialogID string, data any) error {
	if p == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    p.source,
		DialogID:  dialogID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	p.notify(ctx, env)

	if p.queues == nil {
		return nil
	}
	if err := p.queues.Publish(ctx, p.queueRef, env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *Publisher) notify(ctx context.Context, env Envelope) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, ch := range p.listeners {
		select {
		case ch <- env:
		default:
			slog.WarnContext(ctx, "event dropped, listener buffer full",
				slog.String("listener", name),
				slog.String("event_type", string(env.Type)))
		}
	}
}

// Listen registers a buffered in-process listener under name. Events are
// dropped while its buffer is full. The returned func removes the listener
// and closes the channel.
func (p *Publisher) Listen(name string, bufSize int) (<-chan Envelope, func()) {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Envelope, bufSize)
	p.mu.Lock()
	p.listeners[name] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			if p.listeners[name] == ch {
				delete(p.listeners, name)
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

// LogEvents writes every event to the debug log until ctx is done.
func (p *Publisher) LogEvents(ctx context.Context) {
	if p == nil {
		return
	}
	ch, stop := p.Listen("debug_log", 256)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-ch:
			slog.DebugContext(ctx, "dialog event",
				slog.String("event_id", env.ID),
				slog.String("event_type", string(env.Type)),
				slog.String("dialog_id", env.DialogID),
				slog.String("data", string(env.Data)))
		}
	}
}
