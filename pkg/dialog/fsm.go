package dialog

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/skyhighdo/skybot/pkg/channel"
	"github.com/skyhighdo/skybot/pkg/delivery"
	"github.com/skyhighdo/skybot/pkg/textnorm"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// validEmail reports whether s looks like an address. RE2's \s is ASCII
// only, so Unicode spaces such as U+00A0 are rejected separately.
func validEmail(s string) bool {
	return emailPattern.MatchString(s) && strings.IndexFunc(s, unicode.IsSpace) < 0
}

// ScriptSource provides the script in effect for a step.
type ScriptSource interface {
	Current() *Script
}

// StepFunc computes the transition for one input at one step. It must not
// perform I/O; side effects are described by the returned Result.
type StepFunc func(st State, in textnorm.Input, p channel.Platform, s *Script) Result

// Machine dispatches inputs to the step functions of the conversation graph.
type Machine struct {
	script ScriptSource
	steps  map[Step]StepFunc
}

// NewMachine creates a state machine reading its texts from src.
func NewMachine(src ScriptSource) *Machine {
	return &Machine{
		script: src,
		steps: map[Step]StepFunc{
			StepAskEmail:            askEmailStep,
			StepWelcome:             welcomeStep,
			StepFlightChanges:       flightChangesStep,
			StepEnterLocator:        enterLocatorStep,
			StepPaymentDifficulties: paymentDifficultiesStep,
			StepNewReservation:      newReservationStep,
			StepNeedHelp:            needHelpStep,
		},
	}
}

// Start returns the initial state and prompts for a dialog seen for the
// first time. The message that opened the dialog is not treated as input.
func (m *Machine) Start(p channel.Platform) (State, []Message) {
	s := m.script.Current()
	if p.SkipsIdentification() {
		return State{Step: StepWelcome}, []Message{
			reply(s.Prompts.Greeting),
			reply(channel.Format("", s.Options.Welcome, p)),
		}
	}
	return State{Step: StepAskEmail}, []Message{reply(s.Prompts.AskEmail)}
}

// Step feeds in to the step st is at. Unknown steps fall back to the main
// menu without dropping collected data.
func (m *Machine) Step(st State, in textnorm.Input, p channel.Platform) Result {
	s := m.script.Current()
	fn, ok := m.steps[st.Step]
	if !ok {
		return resetStep(st, s, p)
	}
	return fn(st, in, p, s)
}

// ReservationReply builds the messages that replace the static locator
// acknowledgement once the CRM lookup has run.
func (m *Machine) ReservationReply(r *Reservation, lookupErr error, p channel.Platform) ([]Message, error) {
	s := m.script.Current()
	switch {
	case lookupErr != nil:
		return []Message{handoff(channel.Format(s.Prompts.LookupFailed, nil, p))}, nil
	case r == nil:
		return []Message{handoff(channel.Format(s.Prompts.DealNotFound, nil, p))}, nil
	}

	view := *r
	view.DepartureDate = orUnavailable(view.DepartureDate)
	view.ReturnDate = orUnavailable(view.ReturnDate)
	view.Origin = orUnavailable(view.Origin)
	view.Destination = orUnavailable(view.Destination)

	details, err := RenderReservation(s.Prompts.DealFound, view)
	if err != nil {
		return nil, err
	}
	link, err := RenderReservation(s.Prompts.DealLink, view)
	if err != nil {
		return nil, err
	}
	return []Message{
		reply(channel.Format(details, nil, p)),
		reply(s.Prompts.DealFollowup),
		{Kind: delivery.InternalLink, Text: link},
	}, nil
}

func askEmailStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	email := strings.TrimSpace(in.Raw)
	if !validEmail(email) {
		return stay(st, reply(s.Prompts.InvalidEmail))
	}
	st.Step = StepWelcome
	st.Data.Email = email
	return Result{
		Next: st,
		Messages: []Message{
			reply(s.Prompts.EmailThanks),
			reply(channel.Format("", s.Options.Welcome, p)),
		},
	}
}

func welcomeStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	switch choose(in, s.Keywords.Welcome) {
	case 0:
		return advance(st, StepFlightChanges,
			reply(channel.Format(s.Prompts.FlightChanges, s.Options.FlightChanges, p)))
	case 1:
		return advance(st, StepPaymentDifficulties,
			reply(channel.Format(s.Prompts.PaymentDifficulties, nil, p)))
	case 2:
		return advance(st, StepNewReservation,
			reply(channel.Format(s.Prompts.NewReservation, s.Options.NewReservation, p)))
	default:
		return stay(st, reply(channel.Format(s.Prompts.InvalidOption, s.Options.Welcome, p)))
	}
}

func flightChangesStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	switch choose(in, s.Keywords.FlightChanges) {
	case 0:
		return advance(st, StepEnterLocator,
			reply(channel.Format(s.Prompts.EnterLocator, nil, p)))
	case 1:
		return finish(st, handoff(s.Prompts.NoLocator))
	default:
		return stay(st, reply(channel.Format(s.Prompts.InvalidOption, s.Options.FlightChanges, p)))
	}
}

func enterLocatorStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	st.Data.Locator = strings.TrimSpace(in.Raw)
	res := finish(st, handoff(channel.Format(s.Prompts.LocatorReceived, nil, p)))
	res.Lookup = st.Data.Locator
	return res
}

func paymentDifficultiesStep(st State, in textnorm.Input, _ channel.Platform, s *Script) Result {
	st.Data.PaymentInfo = strings.TrimSpace(in.Raw)
	return finish(st, handoff(s.Prompts.PaymentReceived))
}

func newReservationStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	switch choose(in, s.Keywords.NewReservation) {
	case 0:
		return finish(st, handoff(channel.Format(s.Prompts.Farewell, nil, p)))
	case 1:
		return advance(st, StepNeedHelp,
			reply(channel.Format(s.Prompts.NeedHelp, s.Options.NeedHelp, p)))
	default:
		return stay(st, reply(channel.Format(s.Prompts.InvalidOption, s.Options.NewReservation, p)))
	}
}

func needHelpStep(st State, in textnorm.Input, p channel.Platform, s *Script) Result {
	switch choose(in, s.Keywords.NeedHelp) {
	case 0, 1, 2:
		return finish(st, handoff(channel.Format(s.Prompts.HelpThanks, nil, p)))
	default:
		return stay(st, reply(channel.Format(s.Prompts.InvalidOption, s.Options.NeedHelp, p)))
	}
}

func resetStep(st State, s *Script, p channel.Platform) Result {
	return advance(st, StepWelcome,
		reply(s.Prompts.Greeting),
		reply(channel.Format("", s.Options.Welcome, p)),
	)
}

// choose returns the index of the selected branch or -1. Branch i answers
// to option number i+1; option numbers are checked across all branches
// before any keyword.
func choose(in textnorm.Input, branches []Matcher) int {
	if in.Option != "" {
		for i := range branches {
			if in.Option == strconv.Itoa(i+1) {
				return i
			}
		}
	}
	for i, b := range branches {
		if b.Match(in.Normalized) {
			return i
		}
	}
	return -1
}

func reply(text string) Message {
	return Message{Kind: delivery.Reply, Text: text}
}

func handoff(text string) Message {
	return Message{Kind: delivery.Handoff, Text: text}
}

func stay(st State, msgs ...Message) Result {
	return Result{Next: st, Messages: msgs}
}

func advance(st State, to Step, msgs ...Message) Result {
	st.Step = to
	return Result{Next: st, Messages: msgs}
}

func finish(st State, msgs ...Message) Result {
	st.Step = StepEnd
	return Result{Next: st, Messages: msgs, Terminate: true}
}

func orUnavailable(v string) string {
	if v == "" {
		return "No disponible"
	}
	return v
}
