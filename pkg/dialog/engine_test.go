package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skyhighdo/skybot/pkg/delivery"
	"github.com/skyhighdo/skybot/pkg/events"
)

const (
	whatsappEntity = "whatsapp|5|18095550101|1"
	livechatEntity = "livechat|3|27|1"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []delivery.Delivery
	err  error
}

func (r *recordingSender) Deliver(_ context.Context, d delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, d)
	return r.err
}

func (r *recordingSender) deliveries() []delivery.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Delivery(nil), r.sent...)
}

type fakeFinder struct {
	res *Reservation
	err error
	got string
}

func (f *fakeFinder) FindReservation(_ context.Context, locator string) (*Reservation, error) {
	f.got = locator
	return f.res, f.err
}

type fakeSyncer struct {
	mu     sync.Mutex
	emails []string
}

func (f *fakeSyncer) SyncContact(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	return nil
}

// inlinePool runs submitted tasks on the caller's goroutine.
type inlinePool struct{}

func (inlinePool) Submit(_ context.Context, task func()) error {
	task()
	return nil
}

type failingStore struct{ *MemoryStore }

func (failingStore) Put(context.Context, string, State) error {
	return errors.New("store unavailable")
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryStore, *recordingSender) {
	t.Helper()
	store := NewMemoryStore()
	sender := &recordingSender{}
	return NewEngine(NewMachine(DefaultScript()), store, sender, opts...), store, sender
}

func TestEngineNewDialogWhatsApp(t *testing.T) {
	e, store, sender := newTestEngine(t)
	ctx := t.Context()

	err := e.HandleMessage(ctx, Inbound{Text: "Hola", DialogID: "chat10", ChatID: "10", ChatEntityID: whatsappEntity})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	st, ok, _ := store.Get(ctx, "chat10")
	if !ok || st.Step != StepWelcome {
		t.Fatalf("state = %+v, %v; want welcome", st, ok)
	}
	sent := sender.deliveries()
	if len(sent) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(sent))
	}
	for _, d := range sent {
		if d.Kind != delivery.Reply || d.DialogID != "chat10" {
			t.Errorf("delivery = %+v, want reply to chat10", d)
		}
	}
	if sent[0].Text != DefaultScript().Prompts.Greeting {
		t.Errorf("first delivery = %q, want greeting", sent[0].Text)
	}
}

func TestEngineNewDialogLiveChat(t *testing.T) {
	e, store, sender := newTestEngine(t)
	ctx := t.Context()

	if err := e.HandleMessage(ctx, Inbound{Text: "1", DialogID: "chat11", ChatEntityID: livechatEntity}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	st, _, _ := store.Get(ctx, "chat11")
	if st.Step != StepAskEmail {
		t.Errorf("step = %q, want ask_email", st.Step)
	}
	sent := sender.deliveries()
	if len(sent) != 1 || sent[0].Text != DefaultScript().Prompts.AskEmail {
		t.Errorf("deliveries = %+v", sent)
	}
}

func TestEngineConversation(t *testing.T) {
	syncer := &fakeSyncer{}
	e, store, sender := newTestEngine(t, WithContactSyncer(syncer), WithPool(inlinePool{}))
	ctx := t.Context()
	in := func(text string) Inbound {
		return Inbound{Text: text, DialogID: "chat12", ChatID: "12", ChatEntityID: livechatEntity}
	}

	steps := []struct {
		text      string
		wantStep  Step
		wantSends int
	}{
		{"hola", StepAskEmail, 1},
		{"not-an-email", StepAskEmail, 1},
		{"user@example.com", StepWelcome, 2},
		{"2", StepPaymentDifficulties, 1},
	}
	for _, s := range steps {
		before := len(sender.deliveries())
		if err := e.HandleMessage(ctx, in(s.text)); err != nil {
			t.Fatalf("HandleMessage(%q): %v", s.text, err)
		}
		st, ok, _ := store.Get(ctx, "chat12")
		if !ok || st.Step != s.wantStep {
			t.Fatalf("after %q: state = %+v, want step %q", s.text, st, s.wantStep)
		}
		if got := len(sender.deliveries()) - before; got != s.wantSends {
			t.Errorf("after %q: %d deliveries, want %d", s.text, got, s.wantSends)
		}
	}

	if st, _, _ := store.Get(ctx, "chat12"); st.Data.Email != "user@example.com" {
		t.Errorf("email = %q", st.Data.Email)
	}
	if len(syncer.emails) != 1 || syncer.emails[0] != "user@example.com" {
		t.Errorf("contact sync = %v", syncer.emails)
	}

	if err := e.HandleMessage(ctx, in("Santo Domingo a Miami")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "chat12"); ok {
		t.Error("dialog state not removed after terminal step")
	}
	sent := sender.deliveries()
	last := sent[len(sent)-1]
	if last.Kind != delivery.Handoff || last.ChatID != "12" {
		t.Errorf("last delivery = %+v, want handoff via chat 12", last)
	}
}

func TestEngineHandoffRemovesState(t *testing.T) {
	e, store, sender := newTestEngine(t)
	ctx := t.Context()
	_ = store.Put(ctx, "chat13", State{Step: StepFlightChanges})

	if err := e.HandleMessage(ctx, Inbound{Text: "no", DialogID: "chat13", ChatID: "13", ChatEntityID: whatsappEntity}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "chat13"); ok {
		t.Error("state still present")
	}
	sent := sender.deliveries()
	if len(sent) != 1 || sent[0].Kind != delivery.Handoff || sent[0].ChatID != "13" {
		t.Errorf("deliveries = %+v, want one handoff via chat 13", sent)
	}
}

func TestEngineDeliveryFailureDoesNotFail(t *testing.T) {
	pub := events.NewPublisher(nil, "test", "events")
	evCh, stop := pub.Listen("t", 16)
	defer stop()

	store := NewMemoryStore()
	sender := &recordingSender{err: errors.New("bitrix down")}
	e := NewEngine(NewMachine(DefaultScript()), store, sender, WithPublisher(pub))
	ctx := t.Context()
	_ = store.Put(ctx, "chat14", State{Step: StepWelcome})

	if err := e.HandleMessage(ctx, Inbound{Text: "1", DialogID: "chat14", ChatEntityID: whatsappEntity}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if st, _, _ := store.Get(ctx, "chat14"); st.Step != StepFlightChanges {
		t.Errorf("step = %q, want flight_changes", st.Step)
	}

	var types []events.EventType
	for len(evCh) > 0 {
		types = append(types, (<-evCh).Type)
	}
	if !containsEvent(types, events.StepTransition) || !containsEvent(types, events.DeliveryFailed) {
		t.Errorf("events = %v", types)
	}
}

func TestEngineStoreFailure(t *testing.T) {
	sender := &recordingSender{}
	e := NewEngine(NewMachine(DefaultScript()), failingStore{NewMemoryStore()}, sender)

	if err := e.HandleMessage(t.Context(), Inbound{Text: "hola", DialogID: "chat15"}); err == nil {
		t.Fatal("expected store error")
	}
	if len(sender.deliveries()) != 0 {
		t.Error("nothing should be sent when the state cannot be stored")
	}
}

func TestEngineMissingDialogID(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.HandleMessage(t.Context(), Inbound{Text: "hola"}); !errors.Is(err, ErrNoDialog) {
		t.Errorf("err = %v, want ErrNoDialog", err)
	}
}

func TestEngineLocatorLookup(t *testing.T) {
	s := DefaultScript()
	tests := []struct {
		name      string
		finder    *fakeFinder
		wantKinds []delivery.Kind
		wantFirst string
	}{
		{
			name:      "found",
			finder:    &fakeFinder{res: &Reservation{ID: "7", Title: "Viaje", URL: "https://x/crm/deal/details/7/"}},
			wantKinds: []delivery.Kind{delivery.Reply, delivery.Reply, delivery.InternalLink},
		},
		{
			name:      "not found",
			finder:    &fakeFinder{},
			wantKinds: []delivery.Kind{delivery.Handoff},
			wantFirst: s.Prompts.DealNotFound,
		},
		{
			name:      "lookup error",
			finder:    &fakeFinder{err: errors.New("timeout")},
			wantKinds: []delivery.Kind{delivery.Handoff},
			wantFirst: s.Prompts.LookupFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, sender := newTestEngine(t, WithReservationFinder(tt.finder))
			ctx := t.Context()
			_ = store.Put(ctx, "chat16", State{Step: StepEnterLocator})

			if err := e.HandleMessage(ctx, Inbound{Text: "ABC123", DialogID: "chat16", ChatID: "16", ChatEntityID: livechatEntity}); err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			if tt.finder.got != "ABC123" {
				t.Errorf("finder locator = %q", tt.finder.got)
			}
			if _, ok, _ := store.Get(ctx, "chat16"); ok {
				t.Error("state not cleared")
			}
			sent := sender.deliveries()
			if len(sent) != len(tt.wantKinds) {
				t.Fatalf("deliveries = %+v", sent)
			}
			for i, k := range tt.wantKinds {
				if sent[i].Kind != k {
					t.Errorf("delivery %d kind = %s, want %s", i, sent[i].Kind, k)
				}
			}
			if tt.wantFirst != "" && sent[0].Text != tt.wantFirst {
				t.Errorf("first text = %q, want %q", sent[0].Text, tt.wantFirst)
			}
		})
	}
}

func TestEngineLocatorWithoutLookup(t *testing.T) {
	e, store, sender := newTestEngine(t)
	ctx := t.Context()
	_ = store.Put(ctx, "chat17", State{Step: StepEnterLocator})

	if err := e.HandleMessage(ctx, Inbound{Text: "ABC123", DialogID: "chat17", ChatID: "17"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	sent := sender.deliveries()
	want := DefaultScript().Prompts.LocatorReceived
	if len(sent) != 1 || sent[0].Kind != delivery.Handoff || sent[0].Text != want {
		t.Errorf("deliveries = %+v", sent)
	}
}

func TestEngineSerialisesFirstMessages(t *testing.T) {
	e, store, sender := newTestEngine(t)
	ctx := t.Context()
	s := DefaultScript()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.HandleMessage(ctx, Inbound{Text: "hola", DialogID: "chat18", ChatEntityID: livechatEntity})
		}()
	}
	wg.Wait()

	var prompts, reprompts int
	for _, d := range sender.deliveries() {
		switch d.Text {
		case s.Prompts.AskEmail:
			prompts++
		case s.Prompts.InvalidEmail:
			reprompts++
		}
	}
	if prompts != 1 || reprompts != 9 {
		t.Errorf("ask_email prompts = %d, invalid_email = %d; want 1 and 9", prompts, reprompts)
	}
	if store.Len() != 1 {
		t.Errorf("store Len = %d, want 1", store.Len())
	}
}

func TestEngineReaper(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	var mu sync.Mutex
	now := base
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := NewEngine(NewMachine(DefaultScript()), store, &recordingSender{})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	_ = store.Put(ctx, "idle", State{Step: StepWelcome})

	mu.Lock()
	now = base.Add(time.Hour)
	mu.Unlock()

	e.StartReaper(ctx, 30*time.Minute, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle dialog not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineReaperSkipsLockedDialog(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	e := NewEngine(NewMachine(DefaultScript()), store, &recordingSender{})
	ctx := t.Context()
	_ = store.Put(ctx, "busy", State{Step: StepWelcome})
	_ = store.Put(ctx, "idle", State{Step: StepWelcome})
	now = now.Add(time.Hour)

	unlock, err := e.locks.Lock(ctx, "busy")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	e.reapIdle(ctx, store, 30*time.Minute)
	if _, ok, _ := store.Get(ctx, "busy"); !ok {
		t.Error("dialog reaped while its message was being handled")
	}
	if _, ok, _ := store.Get(ctx, "idle"); ok {
		t.Error("idle dialog not reaped")
	}

	unlock()
	e.reapIdle(ctx, store, 30*time.Minute)
	if store.Len() != 0 {
		t.Errorf("store Len = %d after unlock, want 0", store.Len())
	}
}

func containsEvent(types []events.EventType, want events.EventType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
