package model

// Target field keys a source column can map to. The contact-identity trio
// (email, phone, external id) determines row validity.
const (
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldExternalID = "external_id"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldCompany    = "company"
	FieldTitle      = "title"
	FieldCity       = "city"
	FieldState      = "state"
	FieldPostalCode = "postal_code"
	FieldStatus     = "status"
	FieldSource     = "source"
	FieldOwner      = "owner"
)

// IdentityFields are the fields of which at least one must be present for
// a row to be valid.
var IdentityFields = []string{FieldEmail, FieldPhone, FieldExternalID}

// ColumnMap maps one source column to a target field. Target is empty for
// unmapped columns. Manual marks a user override of the detected target.
type ColumnMap struct {
	Source     string  `json:"source"`
	Index      int     `json:"index"`
	Target     string  `json:"target,omitempty"`
	Confidence float64 `json:"confidence"`
	Manual     bool    `json:"manual,omitempty"`
}

// ColumnMapping is the ordered, frozen column→field table for a job.
// Built once (auto-detected, optionally user-edited) and never changed
// after parsing begins.
type ColumnMapping struct {
	Columns []ColumnMap `json:"columns"`
}

// TargetFor returns the target field for a source column index, or ""
// when the column is unmapped or out of range.
func (m *ColumnMapping) TargetFor(index int) string {
	for _, c := range m.Columns {
		if c.Index == index {
			return c.Target
		}
	}
	return ""
}

// Mapped reports whether any column maps to the given target field.
func (m *ColumnMapping) Mapped(target string) bool {
	for _, c := range m.Columns {
		if c.Target == target {
			return true
		}
	}
	return false
}
