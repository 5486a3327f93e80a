package model

import "time"

// Lead is a committed sales-lead record in the target store.
type Lead struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Company    string    `json:"company,omitempty"`
	Title      string    `json:"title,omitempty"`
	City       string    `json:"city,omitempty"`
	State      string    `json:"state,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	Status     string    `json:"status,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LeadFromRow builds a Lead from a row's normalized fields plus job-level
// defaults for fields the file does not carry.
func LeadFromRow(row *Row, ownerID string, defaults RowDefaults) Lead {
	l := Lead{
		OwnerID:    ownerID,
		Email:      row.Field(FieldEmail),
		Phone:      row.Field(FieldPhone),
		ExternalID: row.Field(FieldExternalID),
		FirstName:  row.Field(FieldFirstName),
		LastName:   row.Field(FieldLastName),
		Company:    row.Field(FieldCompany),
		Title:      row.Field(FieldTitle),
		City:       row.Field(FieldCity),
		State:      row.Field(FieldState),
		PostalCode: row.Field(FieldPostalCode),
		Status:     row.Field(FieldStatus),
		Source:     row.Field(FieldSource),
	}
	if l.Status == "" {
		l.Status = defaults.Status
	}
	if l.Source == "" {
		l.Source = defaults.Source
	}
	return l
}

// EventType classifies an audit event on the lead history table.
type EventType string

const (
	EventLeadImported EventType = "lead_imported"
	EventLeadUpdated  EventType = "lead_updated"
)

// Event is one append-only audit record written alongside a committed lead.
type Event struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	JobID     string    `json:"job_id"`
	RowNumber int       `json:"row_number"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}
