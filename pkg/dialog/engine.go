package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitabwire/util"

	"github.com/skyhighdo/skybot/pkg/channel"
	"github.com/skyhighdo/skybot/pkg/delivery"
	"github.com/skyhighdo/skybot/pkg/events"
	"github.com/skyhighdo/skybot/pkg/textnorm"
)

// ErrNoDialog is returned for inbound messages without a dialog id.
var ErrNoDialog = errors.New("dialog: missing dialog id")

// Sender delivers outbound messages.
type Sender interface {
	Deliver(ctx context.Context, d delivery.Delivery) error
}

// ReservationFinder resolves a booking locator to a reservation. It returns
// nil without error when no reservation matches.
type ReservationFinder interface {
	FindReservation(ctx context.Context, locator string) (*Reservation, error)
}

// ContactSyncer makes sure a customer identified by email exists in the CRM.
type ContactSyncer interface {
	SyncContact(ctx context.Context, email string) error
}

// Submitter runs background tasks. frame's worker pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, task func()) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithReservationFinder enables the CRM lookup after a locator is entered.
func WithReservationFinder(f ReservationFinder) Option {
	return func(e *Engine) { e.finder = f }
}

// WithContactSyncer enables the CRM contact sync after a valid email.
func WithContactSyncer(s ContactSyncer) Option {
	return func(e *Engine) { e.contacts = s }
}

// WithPublisher emits lifecycle events through p.
func WithPublisher(p *events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithPool runs background work (contact sync, reaper) on pool.
func WithPool(pool Submitter) Option {
	return func(e *Engine) { e.pool = pool }
}

// Engine runs the conversation for every open-line dialog.
type Engine struct {
	machine   *Machine
	store     Store
	locks     *KeyedLocker
	sender    Sender
	finder    ReservationFinder
	contacts  ContactSyncer
	publisher *events.Publisher
	pool      Submitter
}

// NewEngine creates an engine keeping state in store and sending through sender.
func NewEngine(m *Machine, store Store, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		machine: m,
		store:   store,
		locks:   NewKeyedLocker(),
		sender:  sender,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage processes one inbound message. Messages of the same dialog
// are handled one at a time. The new state is committed before anything is
// sent; failed deliveries are logged and do not fail the call.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) error {
	if in.DialogID == "" {
		return ErrNoDialog
	}

	unlock, err := e.locks.Lock(ctx, in.DialogID)
	if err != nil {
		return fmt.Errorf("lock dialog %s: %w", in.DialogID, err)
	}
	defer unlock()

	platform := channel.Classify(in.ChatEntityID)

	st, ok, err := e.store.Get(ctx, in.DialogID)
	if err != nil {
		return fmt.Errorf("load dialog %s: %w", in.DialogID, err)
	}

	if !ok {
		next, msgs := e.machine.Start(platform)
		if err := e.store.Put(ctx, in.DialogID, next); err != nil {
			return fmt.Errorf("store dialog %s: %w", in.DialogID, err)
		}
		slog.InfoContext(ctx, "dialog started",
			slog.String("dialog_id", in.DialogID),
			slog.String("platform", platform.String()),
			slog.String("step", string(next.Step)))
		e.emit(ctx, events.DialogStarted, in.DialogID, events.DialogStartedData{
			Platform: platform.String(),
			ChatID:   in.ChatID,
			Step:     string(next.Step),
		})
		e.dispatch(ctx, in, next.Step, msgs)
		return nil
	}

	res := e.machine.Step(st, textnorm.Parse(in.Text), platform)
	msgs := res.Messages
	if res.Lookup != "" && e.finder != nil {
		msgs = e.lookup(ctx, in.DialogID, res.Lookup, platform, msgs)
	}

	if res.Terminate {
		err = e.store.Remove(ctx, in.DialogID)
	} else {
		err = e.store.Put(ctx, in.DialogID, res.Next)
	}
	if err != nil {
		return fmt.Errorf("store dialog %s: %w", in.DialogID, err)
	}

	if res.Next.Step != st.Step {
		e.emit(ctx, events.StepTransition, in.DialogID, events.StepTransitionData{
			FromStep: string(st.Step),
			ToStep:   string(res.Next.Step),
			Platform: platform.String(),
			Script:   e.machine.script.Current().Name,
		})
	}
	if res.Terminate {
		slog.InfoContext(ctx, "dialog ended",
			slog.String("dialog_id", in.DialogID),
			slog.String("last_step", string(st.Step)))
		e.emit(ctx, events.DialogEnded, in.DialogID, events.DialogEndedData{
			LastStep: string(st.Step),
			Reason:   "completed",
		})
	}
	if st.Data.Email == "" && res.Next.Data.Email != "" {
		e.syncContact(ctx, res.Next.Data.Email)
	}

	e.dispatch(ctx, in, st.Step, msgs)
	return nil
}

func (e *Engine) lookup(ctx context.Context, dialogID, locator string, p channel.Platform, fallback []Message) []Message {
	r, lookupErr := e.finder.FindReservation(ctx, locator)

	data := events.DealLookupData{Locator: locator, Found: r != nil}
	if r != nil {
		data.DealID = r.ID
	}
	if lookupErr != nil {
		data.Error = lookupErr.Error()
		util.Log(ctx).WithError(lookupErr).Error("reservation lookup failed")
	}
	e.emit(ctx, events.DealLookup, dialogID, data)

	msgs, err := e.machine.ReservationReply(r, lookupErr, p)
	if err != nil {
		util.Log(ctx).WithError(err).Error("render reservation reply")
		return fallback
	}
	return msgs
}

func (e *Engine) dispatch(ctx context.Context, in Inbound, step Step, msgs []Message) {
	for _, m := range msgs {
		d := delivery.Delivery{
			Kind:     m.Kind,
			DialogID: in.DialogID,
			ChatID:   in.ChatID,
			Text:     m.Text,
		}
		if m.Kind == delivery.Handoff {
			e.emit(ctx, events.DialogEscalated, in.DialogID, events.DialogEscalatedData{
				ChatID: in.ChatID,
				Step:   string(step),
			})
		}
		if err := e.sender.Deliver(ctx, d); err != nil {
			util.Log(ctx).WithError(err).Error("message delivery failed")
			e.emit(ctx, events.DeliveryFailed, in.DialogID, events.DeliveryFailedData{
				Kind:  m.Kind.String(),
				Error: err.Error(),
			})
		}
	}
}

func (e *Engine) syncContact(ctx context.Context, email string) {
	if e.contacts == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	job := func() {
		if err := e.contacts.SyncContact(bg, email); err != nil {
			util.Log(bg).WithError(err).Error("crm contact sync failed")
		}
	}
	if e.pool == nil {
		go job()
		return
	}
	if err := e.pool.Submit(bg, job); err != nil {
		util.Log(ctx).WithError(err).Error("submit contact sync")
	}
}

// idleStore is implemented by stores that track when dialogs were last
// updated.
type idleStore interface {
	Idle(ttl time.Duration) []string
	RemoveIdle(dialogID string, ttl time.Duration) bool
}

// StartReaper removes dialogs idle for longer than ttl, checking every
// interval, until ctx is done. Dialogs with a message in progress are left
// for the next round. It does nothing unless the store tracks idleness.
func (e *Engine) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	r, ok := e.store.(idleStore)
	if !ok || ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	reap := func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.reapIdle(ctx, r, ttl)
			}
		}
	}
	if e.pool != nil {
		_ = e.pool.Submit(ctx, reap)
	} else {
		go reap()
	}
}

func (e *Engine) reapIdle(ctx context.Context, r idleStore, ttl time.Duration) {
	for _, id := range r.Idle(ttl) {
		unlock, ok := e.locks.TryLock(id)
		if !ok {
			continue
		}
		removed := r.RemoveIdle(id, ttl)
		unlock()
		if removed {
			slog.WarnContext(ctx, "reaping idle dialog", slog.String("dialog_id", id))
			e.emit(ctx, events.DialogEnded, id, events.DialogEndedData{Reason: "idle"})
		}
	}
}

func (e *Engine) emit(ctx context.Context, t events.EventType, dialogID string, data any) {
	if err := e.publisher.Emit(ctx, t, dialogID, data); err != nil {
		slog.WarnContext(ctx, "event publish failed",
			slog.String("event_type", string(t)),
			slog.String("error", err.Error()))
	}
}
