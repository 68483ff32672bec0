// Package crm adapts the Bitrix24 client to the lookups the dialog engine
// performs.
package crm

import (
	"context"
	"log/slog"

	"github.com/skyhighdo/skybot/pkg/bitrix"
	"github.com/skyhighdo/skybot/pkg/dialog"
)

// Client is the part of the Bitrix24 API the adapter uses.
type Client interface {
	FindDealByLocator(ctx context.Context, code string) (*bitrix.Deal, error)
	DealURL(id string) string
	FindContactByEmail(ctx context.Context, email string) (*bitrix.Contact, error)
	CreateLead(ctx context.Context, email string) (string, error)
}

// Adapter implements dialog.ReservationFinder and dialog.ContactSyncer.
type Adapter struct {
	client Client
}

var (
	_ dialog.ReservationFinder = (*Adapter)(nil)
	_ dialog.ContactSyncer     = (*Adapter)(nil)
)

// New creates an adapter over c.
func New(c Client) *Adapter {
	return &Adapter{client: c}
}

// FindReservation looks up the deal booked under locator.
func (a *Adapter) FindReservation(ctx context.Context, locator string) (*dialog.Reservation, error) {
	deal, err := a.client.FindDealByLocator(ctx, locator)
	if err != nil || deal == nil {
		return nil, err
	}
	return &dialog.Reservation{
		ID:            deal.ID,
		Title:         deal.Title,
		DepartureDate: deal.DepartureDate,
		ReturnDate:    deal.ReturnDate,
		Origin:        deal.Origin,
		Destination:   deal.Destination,
		URL:           a.client.DealURL(deal.ID),
	}, nil
}

// SyncContact creates a lead for email unless a contact already has it.
func (a *Adapter) SyncContact(ctx context.Context, email string) error {
	contact, err := a.client.FindContactByEmail(ctx, email)
	if err != nil {
		return err
	}
	if contact != nil {
		slog.DebugContext(ctx, "crm contact exists", slog.String("contact_id", contact.ID))
		return nil
	}

	id, err := a.client.CreateLead(ctx, email)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "crm lead created", slog.String("lead_id", id))
	return nil
}
