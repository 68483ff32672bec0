package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Custom deal fields of the portal.
const (
	fieldLocator       = "UF_CRM_1724708436"
	fieldDepartureDate = "UF_CRM_1723822712"
	fieldReturnDate    = "UF_CRM_1724703440"
	fieldDestination   = "UF_CRM_1724703908"
	fieldOrigin        = "UF_CRM_1724703943"
)

// valueNotFound replaces list values missing from the airport tables.
const valueNotFound = "Valor no encontrado"

var destinations = map[string]string{
	"291": "Anguila (AXA)",
	"293": "Antigua (ANU)",
	"295": "Aruba (AUA)",
	"297": "Bonaire (BON)",
	"299": "Caracas (CCS)",
	"301": "Curazao (CUR)",
	"303": "Georgetown (GEO)",
	"305": "Guadalupe (PTP)",
	"307": "La Habana (HAV)",
	"309": "Martinica (FDF)",
	"311": "Miami (MIA)",
	"313": "Santiago de Cuba (SCU)",
	"315": "Santo Domingo (SDQ)",
	"317": "St. Kitts (SKB)",
	"319": "Valencia (VLN)",
}

var origins = map[string]string{
	"321": "Anguila (AXA)",
	"323": "Antigua (ANU)",
	"325": "Aruba (AUA)",
	"327": "Bonaire (BON)",
	"329": "Caracas (CCS)",
	"331": "Cayenne Guyana Francesa (CAY)",
	"333": "Curazao (CUR)",
	"335": "Georgetown (GEO)",
	"337": "Guadalupe (PTP)",
	"339": "La Habana (HAV)",
	"341": "Martinica (FDF)",
	"343": "Miami (MIA)",
	"345": "Santiago de Cuba (SCU)",
	"347": "Santo Domingo (SDQ)",
	"349": "St. Kitts (SKB)",
	"351": "Valencia (VLN)",
}

// Deal is a reservation deal with display-ready field values.
type Deal struct {
	ID            string
	Title         string
	Locator       string
	Status        string
	DepartureDate string
	ReturnDate    string
	Destination   string
	Origin        string
}

type rawDeal struct {
	ID            FlexString `json:"ID"`
	Title         FlexString `json:"TITLE"`
	Locator       FlexString `json:"UF_CRM_1724708436"`
	Status        FlexString `json:"STATUS"`
	DepartureDate FlexString `json:"UF_CRM_1723822712"`
	ReturnDate    FlexString `json:"UF_CRM_1724703440"`
	Destination   FlexString `json:"UF_CRM_1724703908"`
	Origin        FlexString `json:"UF_CRM_1724703943"`
}

// FindDealByLocator pages through crm.deal.list filtered on the locator
// field and returns the first deal whose locator equals code exactly, or
// nil when there is none.
func (c *Client) FindDealByLocator(ctx context.Context, code string) (*Deal, error) {
	start := 0
	for {
		var page []rawDeal
		next, err := c.call(ctx, "crm.deal.list", map[string]any{
			"filter": map[string]string{fieldLocator: code},
			"select": []string{
				"ID", "TITLE", fieldLocator, "STATUS",
				fieldDepartureDate, fieldReturnDate, fieldDestination, fieldOrigin,
			},
			"start": start,
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("find deal by locator: %w", err)
		}

		for _, d := range page {
			if string(d.Locator) == code {
				return d.toDeal(), nil
			}
		}

		if next <= start {
			return nil, nil
		}
		start = next
	}
}

// DealURL returns the portal page of a deal.
func (c *Client) DealURL(id string) string {
	return c.portal + "/crm/deal/details/" + id + "/"
}

func (d rawDeal) toDeal() *Deal {
	return &Deal{
		ID:            string(d.ID),
		Title:         string(d.Title),
		Locator:       string(d.Locator),
		Status:        string(d.Status),
		DepartureDate: formatDate(string(d.DepartureDate)),
		ReturnDate:    formatDate(string(d.ReturnDate)),
		Destination:   lookupValue(destinations, string(d.Destination)),
		Origin:        lookupValue(origins, string(d.Origin)),
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// formatDate renders a CRM date as DD/MM/YYYY. Values that do not parse
// are returned unchanged.
func formatDate(s string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return s
}

func lookupValue(table map[string]string, id string) string {
	if v, ok := table[id]; ok {
		return v
	}
	return valueNotFound
}

// FlexString is a string field that Bitrix24 may encode as a JSON string,
// a number or null.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = FlexString(n.String())
		return nil
	}
}
