package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/skyhighdo/skybot/pkg/bitrix"
)

type fakeClient struct {
	deal     *bitrix.Deal
	dealErr  error
	contact  *bitrix.Contact
	leads    []string
	leadErr  error
	locators []string
}

func (f *fakeClient) FindDealByLocator(_ context.Context, code string) (*bitrix.Deal, error) {
	f.locators = append(f.locators, code)
	return f.deal, f.dealErr
}

func (f *fakeClient) DealURL(id string) string {
	return "https://demo.bitrix24.com/crm/deal/details/" + id + "/"
}

func (f *fakeClient) FindContactByEmail(context.Context, string) (*bitrix.Contact, error) {
	return f.contact, nil
}

func (f *fakeClient) CreateLead(_ context.Context, email string) (string, error) {
	if f.leadErr != nil {
		return "", f.leadErr
	}
	f.leads = append(f.leads, email)
	return "99", nil
}

func TestFindReservation(t *testing.T) {
	fc := &fakeClient{deal: &bitrix.Deal{
		ID:            "7",
		Title:         "Viaje Caracas",
		DepartureDate: "15/09/2024",
		Origin:        "Miami (MIA)",
		Destination:   "Caracas (CCS)",
	}}
	r, err := New(fc).FindReservation(t.Context(), "ABC123")
	if err != nil {
		t.Fatalf("FindReservation: %v", err)
	}
	if r.ID != "7" || r.Destination != "Caracas (CCS)" {
		t.Errorf("reservation = %+v", r)
	}
	if r.URL != "https://demo.bitrix24.com/crm/deal/details/7/" {
		t.Errorf("url = %q", r.URL)
	}
	if len(fc.locators) != 1 || fc.locators[0] != "ABC123" {
		t.Errorf("locators = %v", fc.locators)
	}
}

func TestFindReservationNotFoundAndError(t *testing.T) {
	r, err := New(&fakeClient{}).FindReservation(t.Context(), "ABC123")
	if r != nil || err != nil {
		t.Errorf("not found = %+v, %v", r, err)
	}

	boom := errors.New("boom")
	if _, err := New(&fakeClient{dealErr: boom}).FindReservation(t.Context(), "ABC123"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestSyncContact(t *testing.T) {
	fc := &fakeClient{}
	if err := New(fc).SyncContact(t.Context(), "ana@example.com"); err != nil {
		t.Fatalf("SyncContact: %v", err)
	}
	if len(fc.leads) != 1 {
		t.Errorf("leads = %v, want one", fc.leads)
	}

	existing := &fakeClient{contact: &bitrix.Contact{ID: "5"}}
	if err := New(existing).SyncContact(t.Context(), "ana@example.com"); err != nil {
		t.Fatalf("SyncContact: %v", err)
	}
	if len(existing.leads) != 0 {
		t.Errorf("lead created for existing contact")
	}

	failing := &fakeClient{leadErr: errors.New("ERROR_CORE")}
	if err := New(failing).SyncContact(t.Context(), "ana@example.com"); err == nil {
		t.Error("expected lead error")
	}
}
