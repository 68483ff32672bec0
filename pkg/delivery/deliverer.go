// Package delivery pushes bot replies into Bitrix24 open-line chats and
// hands conversations over to human operators.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoDestination is returned when a delivery lacks the id its kind needs.
var ErrNoDestination = errors.New("no destination")

// Kind selects how a text is routed.
type Kind int

const (
	// Reply posts the text into the customer's dialog.
	Reply Kind = iota
	// Handoff posts the text into the dialog and then transfers the
	// open-line session to a free operator.
	Handoff
	// InternalLink transfers the session and posts the text into the
	// operator side of the open line only.
	InternalLink
)

func (k Kind) String() string {
	switch k {
	case Reply:
		return "reply"
	case Handoff:
		return "handoff"
	case InternalLink:
		return "internal_link"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delivery is one outbound text with its routing.
type Delivery struct {
	Kind     Kind
	DialogID string
	ChatID   string
	Text     string
}

// Transport is the messaging API deliveries are executed against.
type Transport interface {
	SendToDialog(ctx context.Context, dialogID, text string) error
	TransferToOperator(ctx context.Context, chatID string) error
	SendToOpenLine(ctx context.Context, chatID, text string) error
}

// Config holds delivery-related settings.
type Config struct {
	// MaxRetries caps re-attempts per transport call. Re-sent chat messages
	// are visible to the customer, so this is kept small.
	MaxRetries        int
	Backoff           time.Duration
	CBFailThreshold   int
	CBResetTimeoutSec int
}

// Deliverer executes deliveries against a Transport. Every transport call
// is retried and circuit-broken on its own.
type Deliverer struct {
	transport Transport
	config    Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewDeliverer creates a deliverer over t.
func NewDeliverer(t Transport, cfg Config) *Deliverer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Deliverer{
		transport: t,
		config:    cfg,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Deliver executes d. A failing call does not prevent the remaining calls
// of the same delivery; all failures are returned joined.
func (d *Deliverer) Deliver(ctx context.Context, dl Delivery) error {
	switch dl.Kind {
	case Reply:
		if dl.DialogID == "" {
			return fmt.Errorf("%s: dialog id: %w", dl.Kind, ErrNoDestination)
		}
		return d.sendToDialog(ctx, dl)

	case Handoff:
		var errs []error
		if dl.DialogID != "" {
			errs = append(errs, d.sendToDialog(ctx, dl))
		}
		if dl.ChatID == "" {
			slog.WarnContext(ctx, "handoff without chat id, operator not notified",
				slog.String("dialog_id", dl.DialogID))
			if dl.DialogID == "" {
				return fmt.Errorf("%s: %w", dl.Kind, ErrNoDestination)
			}
			return errors.Join(errs...)
		}
		errs = append(errs, d.transfer(ctx, dl.ChatID))
		return errors.Join(errs...)

	case InternalLink:
		if dl.ChatID == "" {
			return fmt.Errorf("%s: chat id: %w", dl.Kind, ErrNoDestination)
		}
		return errors.Join(
			d.transfer(ctx, dl.ChatID),
			d.call(ctx, "open_line_message", func(ctx context.Context) error {
				return d.transport.SendToOpenLine(ctx, dl.ChatID, dl.Text)
			}),
		)

	default:
		return fmt.Errorf("unsupported delivery kind %s", dl.Kind)
	}
}

// Breaker returns the breaker guarding a transport operation.
func (d *Deliverer) Breaker(op string) *CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[op]
	if !ok {
		cb = NewCircuitBreaker(BreakerConfig{
			FailureThreshold:    d.config.CBFailThreshold,
			ResetTimeout:        time.Duration(d.config.CBResetTimeoutSec) * time.Second,
			HalfOpenMaxAttempts: 1,
		})
		d.breakers[op] = cb
	}
	return cb
}

func (d *Deliverer) sendToDialog(ctx context.Context, dl Delivery) error {
	return d.call(ctx, "dialog_message", func(ctx context.Context) error {
		return d.transport.SendToDialog(ctx, dl.DialogID, dl.Text)
	})
}

func (d *Deliverer) transfer(ctx context.Context, chatID string) error {
	return d.call(ctx, "operator_transfer", func(ctx context.Context) error {
		return d.transport.TransferToOperator(ctx, chatID)
	})
}

// retryable is implemented by transport errors that know whether a repeat
// can succeed.
type retryable interface {
	Retryable() bool
}

func (d *Deliverer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	cb := d.Breaker(op)

	var err error
	for attempt := 1; attempt <= d.config.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if werr := d.wait(ctx, attempt); werr != nil {
				return fmt.Errorf("%s: %w", op, werr)
			}
		}
		if err = cb.Allow(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err = fn(ctx); err == nil {
			cb.Success()
			return nil
		}
		cb.Failure()
		slog.WarnContext(ctx, "delivery attempt failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		var r retryable
		if errors.As(err, &r) && !r.Retryable() {
			break
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Deliverer) wait(ctx context.Context, attempt int) error {
	backoff := d.config.Backoff * time.Duration(1<<(attempt-2))
	if backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
