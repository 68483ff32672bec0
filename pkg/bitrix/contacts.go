package bitrix

import (
	"context"
	"fmt"
)

// Contact is a CRM contact.
type Contact struct {
	ID       string
	Name     string
	LastName string
}

// FindContactByEmail returns the most recent contact with the given email,
// or nil when there is none.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	var result []struct {
		ID       FlexString `json:"ID"`
		Name     FlexString `json:"NAME"`
		LastName FlexString `json:"LAST_NAME"`
	}
	_, err := c.call(ctx, "crm.contact.list", map[string]any{
		"filter": map[string]string{"EMAIL": email},
		"select": []string{"ID", "NAME", "LAST_NAME", "EMAIL"},
		"order":  map[string]string{"ID": "DESC"},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("find contact by email: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	r := result[0]
	return &Contact{ID: string(r.ID), Name: string(r.Name), LastName: string(r.LastName)}, nil
}

// CreateLead creates a new lead for a chatbot user and returns its id.
func (c *Client) CreateLead(ctx context.Context, email string) (string, error) {
	var id FlexString
	_, err := c.call(ctx, "crm.lead.add", map[string]any{
		"fields": map[string]any{
			"TITLE":     "Nuevo Lead desde Chatbot",
			"STATUS_ID": "NEW",
			"SOURCE_ID": "OPENLINE",
			"EMAIL": []map[string]string{
				{"VALUE": email, "VALUE_TYPE": "WORK"},
			},
		},
	}, &id)
	if err != nil {
		return "", fmt.Errorf("create lead: %w", err)
	}
	if id == "" || id == "0" {
		return "", fmt.Errorf("create lead: empty lead id")
	}
	return string(id), nil
}
