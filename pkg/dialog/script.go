package dialog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skyhighdo/skybot/pkg/textnorm"
)

// ErrInvalidScript is returned when a script is missing prompts or options.
var ErrInvalidScript = errors.New("invalid dialog script")

//go:embed script.yaml
var defaultScriptYAML []byte

// Prompts are the texts the bot sends. DealFound and DealLink are
// text/template strings evaluated against a Reservation.
type Prompts struct {
	Greeting            string `yaml:"greeting"`
	AskEmail            string `yaml:"ask_email"`
	InvalidEmail        string `yaml:"invalid_email"`
	EmailThanks         string `yaml:"email_thanks"`
	InvalidOption       string `yaml:"invalid_option"`
	FlightChanges       string `yaml:"flight_changes"`
	PaymentDifficulties string `yaml:"payment_difficulties"`
	NewReservation      string `yaml:"new_reservation"`
	EnterLocator        string `yaml:"enter_locator"`
	NoLocator           string `yaml:"no_locator"`
	LocatorReceived     string `yaml:"locator_received"`
	PaymentReceived     string `yaml:"payment_received"`
	Farewell            string `yaml:"farewell"`
	NeedHelp            string `yaml:"need_help"`
	HelpThanks          string `yaml:"help_thanks"`
	DealFound           string `yaml:"deal_found"`
	DealFollowup        string `yaml:"deal_followup"`
	DealLink            string `yaml:"deal_link"`
	DealNotFound        string `yaml:"deal_not_found"`
	LookupFailed        string `yaml:"lookup_failed"`
}

// Options are the numbered menus shown at each branching step.
type Options struct {
	Welcome        []string `yaml:"welcome"`
	FlightChanges  []string `yaml:"flight_changes"`
	NewReservation []string `yaml:"new_reservation"`
	NeedHelp       []string `yaml:"need_help"`
}

// Matcher recognises a written-out menu answer. Keywords are compared
// against normalized input: Contains matches a substring, Equals the whole
// text.
type Matcher struct {
	Contains []string `yaml:"contains"`
	Equals   []string `yaml:"equals"`
}

// Match reports whether normalized selects the answer.
func (m Matcher) Match(normalized string) bool {
	for _, kw := range m.Equals {
		if normalized == kw {
			return true
		}
	}
	for _, kw := range m.Contains {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// Keywords holds one Matcher per menu entry, in menu order.
type Keywords struct {
	Welcome        []Matcher `yaml:"welcome"`
	FlightChanges  []Matcher `yaml:"flight_changes"`
	NewReservation []Matcher `yaml:"new_reservation"`
	NeedHelp       []Matcher `yaml:"need_help"`
}

// Script is the full copy deck of the conversation.
type Script struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Prompts     Prompts  `yaml:"prompts"`
	Options     Options  `yaml:"options"`
	Keywords    Keywords `yaml:"keywords"`
}

// Current returns s itself so a fixed script can be handed to NewMachine.
func (s *Script) Current() *Script { return s }

// DefaultScript returns the built-in Spanish script.
func DefaultScript() *Script {
	s, err := ParseScript(defaultScriptYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded script: %v", err))
	}
	return s
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads a script from path. An empty path yields DefaultScript.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %q: %w", path, err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("load script %q: %w", path, err)
	}
	return s, nil
}

// Validate checks that every prompt is set, that every menu and its
// keywords have as many entries as the step has branches, that keywords
// are in normalized form and that the templates parse.
func (s *Script) Validate() error {
	p := s.Prompts
	required := []struct {
		key, value string
	}{
		{"greeting", p.Greeting},
		{"ask_email", p.AskEmail},
		{"invalid_email", p.InvalidEmail},
		{"email_thanks", p.EmailThanks},
		{"invalid_option", p.InvalidOption},
		{"flight_changes", p.FlightChanges},
		{"payment_difficulties", p.PaymentDifficulties},
		{"new_reservation", p.NewReservation},
		{"enter_locator", p.EnterLocator},
		{"no_locator", p.NoLocator},
		{"locator_received", p.LocatorReceived},
		{"payment_received", p.PaymentReceived},
		{"farewell", p.Farewell},
		{"need_help", p.NeedHelp},
		{"help_thanks", p.HelpThanks},
		{"deal_found", p.DealFound},
		{"deal_followup", p.DealFollowup},
		{"deal_link", p.DealLink},
		{"deal_not_found", p.DealNotFound},
		{"lookup_failed", p.LookupFailed},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: prompts.%s is required", ErrInvalidScript, r.key)
		}
	}

	menus := []struct {
		key      string
		items    []string
		keywords []Matcher
		want     int
	}{
		{"welcome", s.Options.Welcome, s.Keywords.Welcome, 3},
		{"flight_changes", s.Options.FlightChanges, s.Keywords.FlightChanges, 2},
		{"new_reservation", s.Options.NewReservation, s.Keywords.NewReservation, 2},
		{"need_help", s.Options.NeedHelp, s.Keywords.NeedHelp, 3},
	}
	for _, m := range menus {
		if len(m.items) != m.want {
			return fmt.Errorf("%w: options.%s has %d entries, want %d",
				ErrInvalidScript, m.key, len(m.items), m.want)
		}
		if len(m.keywords) != m.want {
			return fmt.Errorf("%w: keywords.%s has %d entries, want %d",
				ErrInvalidScript, m.key, len(m.keywords), m.want)
		}
		for i, kw := range m.keywords {
			if err := kw.validate(); err != nil {
				return fmt.Errorf("%w: keywords.%s[%d]: %v", ErrInvalidScript, m.key, i, err)
			}
		}
	}

	for key, tmpl := range map[string]string{"deal_found": p.DealFound, "deal_link": p.DealLink} {
		if _, err := parseTemplate(tmpl); err != nil {
			return fmt.Errorf("%w: prompts.%s: %v", ErrInvalidScript, key, err)
		}
	}
	return nil
}

func (m Matcher) validate() error {
	if len(m.Contains) == 0 && len(m.Equals) == 0 {
		return errors.New("no keywords")
	}
	for _, kw := range append(append([]string(nil), m.Contains...), m.Equals...) {
		if kw == "" || textnorm.Normalize(kw) != kw {
			return fmt.Errorf("keyword %q is not normalized", kw)
		}
	}
	return nil
}
