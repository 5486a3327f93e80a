package model

import "time"

// JobStatus represents the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusParsing   JobStatus = "parsing"
	JobStatusReady     JobStatus = "ready"
	JobStatusImporting JobStatus = "importing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// jobTransitions is the allowed forward-transition table. Failed and
// cancelled are reachable from any non-terminal status and are handled
// separately in CanTransition.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusQueued},
	JobStatusQueued:    {JobStatusParsing},
	JobStatusParsing:   {JobStatusReady},
	JobStatusReady:     {JobStatusImporting},
	JobStatusImporting: {JobStatusCompleted},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusFailed || to == JobStatusCancelled {
		return true
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CancellableStatuses is the set of statuses from which a cancel request
// is accepted. Used as the guard set for the conditional cancel update.
var CancellableStatuses = []JobStatus{
	JobStatusPending, JobStatusQueued, JobStatusParsing, JobStatusReady, JobStatusImporting,
}

// PreCommitStatuses is the set of statuses during which assignment and
// duplicate options may still be edited.
var PreCommitStatuses = []JobStatus{
	JobStatusPending, JobStatusQueued, JobStatusParsing, JobStatusReady,
}

// FileType identifies the source file format.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
)

// Counters holds the running row counts for a job. All counters are
// monotonically non-decreasing within a job's lifetime, and
// Imported + Skipped never exceeds Valid.
type Counters struct {
	TotalRows     int `json:"total_rows"`
	ValidRows     int `json:"valid_rows"`
	InvalidRows   int `json:"invalid_rows"`
	ImportedRows  int `json:"imported_rows"`
	SkippedRows   int `json:"skipped_rows"`
	FallbackCount int `json:"fallback_count"`
}

// Checkpoint records parse progress so an interrupted invocation can
// resume without duplicating rows. LastRowNumber is the first row number
// of the next unparsed chunk; on resume, rows >= LastRowNumber are purged
// before re-parsing.
type Checkpoint struct {
	Chunk         int       `json:"chunk"`
	LastRowNumber int       `json:"last_row_number"`
	ValidCount    int       `json:"valid_count"`
	InvalidCount  int       `json:"invalid_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Job is one import attempt: the top-level unit of state, counters and
// checkpointing. Only the orchestration workers mutate Status.
type Job struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	FileName    string            `json:"file_name"`
	FilePath    string            `json:"file_path"`
	FileHash    string            `json:"file_hash"`
	FileType    FileType          `json:"file_type"`
	Status      JobStatus         `json:"status"`
	Mapping     *ColumnMapping    `json:"mapping,omitempty"`
	Assignment  *AssignmentConfig `json:"assignment,omitempty"`
	Duplicate   *DuplicateConfig  `json:"duplicate,omitempty"`
	Counters    Counters          `json:"counters"`
	Checkpoint  *Checkpoint       `json:"checkpoint,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// AssignMode selects how imported leads get an owner.
type AssignMode string

const (
	AssignModeNone       AssignMode = "none"
	AssignModeSingle     AssignMode = "single"
	AssignModeRoundRobin AssignMode = "round_robin"
	AssignModeByColumn   AssignMode = "by_column"
)

// AssignmentConfig is the mode tag plus its mode-specific payload.
type AssignmentConfig struct {
	Mode AssignMode `json:"mode"`

	// single
	UserID string `json:"user_id,omitempty"`

	// round_robin
	UserIDs []string `json:"user_ids,omitempty"`

	// by_column
	Column        string            `json:"column,omitempty"`
	Table         map[string]string `json:"table,omitempty"`
	DefaultUserID string            `json:"default_user_id,omitempty"`
}

// DupStrategy decides what happens to a row classified as a duplicate.
type DupStrategy string

const (
	DupStrategySkip   DupStrategy = "skip"
	DupStrategyUpdate DupStrategy = "update"
	DupStrategyCreate DupStrategy = "create"
)

// DuplicateConfig controls duplicate detection for a job.
type DuplicateConfig struct {
	Strategy   DupStrategy `json:"strategy"`
	Fields     []string    `json:"fields"`
	CheckStore bool        `json:"check_store"`
	CheckFile  bool        `json:"check_file"`
}

// RowDefaults supplies lead field values the file does not carry.
type RowDefaults struct {
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}
