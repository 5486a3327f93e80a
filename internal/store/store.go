// Package store persists import jobs, their rows, and the committed lead
// records. Two implementations share one interface: Postgres (pgxpool)
// for production and SQLite (modernc) for the local runner and tests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
)

// Sentinel errors shared by both implementations.
var (
	// ErrNotFound means the referenced job does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrDuplicateFile means a job for the same owner and file content
	// hash already exists; the submission is rejected before a new job
	// is created.
	ErrDuplicateFile = eris.New("store: duplicate file submission")

	// ErrConflict means a conditional write found the job or its rows
	// in a different state than expected — typically a raced duplicate
	// invocation or a cancellation. The caller treats it as a signal to
	// stop without side effects, not as a failure.
	ErrConflict = eris.New("store: conflicting concurrent update")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	OwnerID string          `json:"owner_id,omitempty"`
	Status  model.JobStatus `json:"status,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// ParseProgress is one chunk's worth of parse output: the rows plus the
// checkpoint and counter deltas that must land in the same write.
type ParseProgress struct {
	Rows         []model.Row
	Checkpoint   model.Checkpoint
	TotalDelta   int
	ValidDelta   int
	InvalidDelta int
}

// CommitBatch is one insert-batch of commit output, applied atomically:
// lead inserts/updates, audit events, row resolutions and counter deltas
// either all land or none do.
type CommitBatch struct {
	JobID         string
	Inserts       []model.Lead
	Updates       []model.Lead
	Events        []model.Event
	Resolutions   []model.RowResolution
	ImportedDelta int
	SkippedDelta  int
	FallbackDelta int
}

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// TransitionJob conditionally moves a job to a new status when its
	// current status is in the expected set. Returns false (no error)
	// when the guard does not hold, so racing invocations no-op instead
	// of clobbering each other.
	TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus) (bool, error)
	FailJob(ctx context.Context, id, message string) error
	// UpdateJobOptions replaces the assignment/duplicate configuration,
	// guarded to pre-commit statuses. Returns false when the job has
	// already advanced.
	UpdateJobOptions(ctx context.Context, id string, assignment *model.AssignmentConfig, duplicate *model.DuplicateConfig) (bool, error)

	// Parse phase
	SaveParseProgress(ctx context.Context, jobID string, progress ParseProgress) error
	// DeleteRowsFrom purges rows with row_number >= fromRow, the resume
	// step that guarantees no duplicate rows after a mid-chunk crash.
	DeleteRowsFrom(ctx context.Context, jobID string, fromRow int) (int, error)

	// Commit phase
	FetchRows(ctx context.Context, jobID string, statuses []model.RowStatus, afterRow, limit int) ([]model.Row, error)
	// LeadKeyIndex preloads the existing-store dedupe index for an
	// owner: field:normalized_value → lead id for each requested field.
	LeadKeyIndex(ctx context.Context, ownerID string, fields []string, nopts normalize.Options) (map[string]string, error)
	// FindLeadsByField resolves normalized values to lead ids for the
	// batched update-strategy lookup: one query per field per batch.
	// Stored values are normalized with the same options the key index
	// uses, so both paths match or miss identically.
	FindLeadsByField(ctx context.Context, ownerID, field string, values []string, nopts normalize.Options) (map[string]string, error)
	CommitBatch(ctx context.Context, batch CommitBatch) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// leadColumns maps dedupe field names to their column on the leads table.
var leadColumns = map[string]string{
	model.FieldEmail:      "email",
	model.FieldPhone:      "phone",
	model.FieldExternalID: "external_id",
}

func leadColumn(field string) (string, error) {
	col, ok := leadColumns[field]
	if !ok {
		return "", eris.Errorf("store: field %q is not a dedupe key", field)
	}
	return col, nil
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
