package dialog

import (
	"github.com/skyhighdo/skybot/pkg/delivery"
)

// Step is a node of the conversation graph.
type Step string

const (
	StepAskEmail            Step = "ask_email"
	StepWelcome             Step = "welcome"
	StepFlightChanges       Step = "flight_changes"
	StepEnterLocator        Step = "enter_locator"
	StepPaymentDifficulties Step = "payment_difficulties"
	StepNewReservation      Step = "new_reservation"
	StepNeedHelp            Step = "need_help"
	StepEnd                 Step = "end"
)

// Data holds the fields collected during a conversation.
type Data struct {
	Email       string `yaml:"email,omitempty"        json:"email,omitempty"`
	PaymentInfo string `yaml:"payment_info,omitempty" json:"paymentInfo,omitempty"`
	Locator     string `yaml:"locator,omitempty"      json:"locator,omitempty"`
}

// State is the per-dialog conversation state owned by a Store.
type State struct {
	Step Step `json:"step"`
	Data Data `json:"data"`
}

// Message is one outbound text produced by a step.
type Message struct {
	Kind delivery.Kind
	Text string
}

// Result is the outcome of feeding one input to a step.
type Result struct {
	Next     State
	Messages []Message
	// Terminate removes the dialog from the store instead of saving Next.
	Terminate bool
	// Lookup carries a reservation locator the engine may resolve against
	// the CRM to replace Messages with the reservation details.
	Lookup string
}

// Inbound is a chat message received from the open line.
type Inbound struct {
	Text         string
	DialogID     string
	ChatID       string
	ChatEntityID string
}

// Reservation is a CRM deal rendered for the customer.
type Reservation struct {
	ID            string
	Title         string
	DepartureDate string
	ReturnDate    string
	Origin        string
	Destination   string
	URL           string
}
