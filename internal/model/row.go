package model

// RowStatus represents the validation/commit outcome of one parsed line.
type RowStatus string

const (
	RowStatusValid    RowStatus = "valid"
	RowStatusInvalid  RowStatus = "invalid"
	RowStatusImported RowStatus = "imported"
	RowStatusSkipped  RowStatus = "skipped"
)

// Row is one parsed data line. Row numbers are 1-based, derived from file
// position, and stable across resumed invocations: exactly one Row exists
// per data line per Job.
type Row struct {
	JobID     string            `json:"job_id"`
	RowNumber int               `json:"row_number"`
	Chunk     int               `json:"chunk"`
	Status    RowStatus         `json:"status"`
	Raw       map[string]string `json:"raw"`
	Fields    map[string]string `json:"fields"`
	Errors    map[string]string `json:"errors,omitempty"`
	LeadID    *string           `json:"lead_id,omitempty"`
}

// Field returns the normalized value for a target field, or "" if absent.
func (r *Row) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// RowResolution records the commit outcome for one row.
type RowResolution struct {
	RowNumber int
	Status    RowStatus
	LeadID    *string
}
