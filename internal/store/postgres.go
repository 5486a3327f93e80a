package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/db"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	file_name      TEXT NOT NULL DEFAULT '',
	file_path      TEXT NOT NULL DEFAULT '',
	file_hash      TEXT NOT NULL DEFAULT '',
	file_type      TEXT NOT NULL DEFAULT 'csv',
	status         TEXT NOT NULL DEFAULT 'pending',
	mapping        JSONB,
	assignment     JSONB,
	duplicate      JSONB,
	total_rows     INTEGER NOT NULL DEFAULT 0,
	valid_rows     INTEGER NOT NULL DEFAULT 0,
	invalid_rows   INTEGER NOT NULL DEFAULT 0,
	imported_rows  INTEGER NOT NULL DEFAULT 0,
	skipped_rows   INTEGER NOT NULL DEFAULT 0,
	fallback_count INTEGER NOT NULL DEFAULT 0,
	checkpoint     JSONB,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_import_jobs_owner_hash
	ON import_jobs(owner_id, file_hash) WHERE file_hash <> '';
CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_owner ON import_jobs(owner_id);

CREATE TABLE IF NOT EXISTS import_rows (
	job_id     TEXT NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
	row_number INTEGER NOT NULL,
	chunk      INTEGER NOT NULL,
	status     TEXT NOT NULL,
	raw        JSONB NOT NULL,
	fields     JSONB NOT NULL,
	errors     JSONB,
	lead_id    TEXT,
	PRIMARY KEY (job_id, row_number)
);

CREATE INDEX IF NOT EXISTS idx_import_rows_status ON import_rows(job_id, status, row_number);

CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	postal_code TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_owner ON leads(owner_id);
CREATE INDEX IF NOT EXISTS idx_leads_owner_email ON leads(owner_id, email);
CREATE INDEX IF NOT EXISTS idx_leads_owner_phone ON leads(owner_id, phone);
CREATE INDEX IF NOT EXISTS idx_leads_owner_external ON leads(owner_id, external_id);

CREATE TABLE IF NOT EXISTS lead_events (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	row_number INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead ON lead_events(lead_id);
CREATE INDEX IF NOT EXISTS idx_lead_events_job ON lead_events(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	job.CreatedAt = time.Now().UTC()

	mappingJSON, assignmentJSON, duplicateJSON, err := marshalJobConfigs(job)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, owner_id, file_name, file_path, file_hash, file_type, status, mapping, assignment, duplicate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OwnerID, job.FileName, job.FilePath, job.FileHash,
		string(job.FileType), string(job.Status),
		mappingJSON, assignmentJSON, duplicateJSON, job.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateFile
		}
		return eris.Wrap(err, "postgres: insert job")
	}
	return nil
}

const jobSelectColumns = `id, owner_id, file_name, file_path, file_hash, file_type, status,
	mapping, assignment, duplicate,
	total_rows, valid_rows, invalid_rows, imported_rows, skipped_rows, fallback_count,
	checkpoint, error, created_at, started_at, completed_at`

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobSelectColumns+` FROM import_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM import_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = $2,
			started_at = CASE WHEN $2 = 'parsing' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		 WHERE id = $1 AND status = ANY($3)`,
		id, string(to), statusStrings(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition job %s to %s", id, to)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Distinguish a failed guard from a missing job.
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = 'failed', error = $2, completed_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, message,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		// Already terminal, or missing. Failing a finished job is a no-op.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UpdateJobOptions(ctx context.Context, id string, assignment *model.AssignmentConfig, duplicate *model.DuplicateConfig) (bool, error) {
	assignmentJSON, err := marshalNullable(assignment)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal assignment")
	}
	duplicateJSON, err := marshalNullable(duplicate)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal duplicate")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET assignment = $2, duplicate = $3
		 WHERE id = $1 AND status = ANY($4)`,
		id, assignmentJSON, duplicateJSON, statusStrings(model.PreCommitStatuses),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update job options %s", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

var importRowColumns = []string{"job_id", "row_number", "chunk", "status", "raw", "fields", "errors", "lead_id"}

func (s *PostgresStore) SaveParseProgress(ctx context.Context, jobID string, progress ParseProgress) error {
	copyRows := make([][]any, 0, len(progress.Rows))
	for i := range progress.Rows {
		values, err := rowCopyValues(&progress.Rows[i])
		if err != nil {
			return err
		}
		copyRows = append(copyRows, values)
	}
	if _, err := db.CopyFrom(ctx, s.pool, "import_rows", importRowColumns, copyRows); err != nil {
		return err
	}

	checkpointJSON, err := json.Marshal(progress.Checkpoint)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}

	// Checkpoint and counters land in one conditional write; a job that
	// was cancelled (or grabbed by a racing invocation) refuses it, and
	// the just-copied rows are purged by the next resume.
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET
			total_rows = total_rows + $2,
			valid_rows = valid_rows + $3,
			invalid_rows = invalid_rows + $4,
			checkpoint = $5
		 WHERE id = $1 AND status = 'parsing'`,
		jobID, progress.TotalDelta, progress.ValidDelta, progress.InvalidDelta, checkpointJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save checkpoint for job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) DeleteRowsFrom(ctx context.Context, jobID string, fromRow int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM import_rows WHERE job_id = $1 AND row_number >= $2`,
		jobID, fromRow,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete rows for job %s", jobID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) FetchRows(ctx context.Context, jobID string, statuses []model.RowStatus, afterRow, limit int) ([]model.Row, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, row_number, chunk, status, raw, fields, errors, lead_id
		 FROM import_rows
		 WHERE job_id = $1 AND status = ANY($2) AND row_number > $3
		 ORDER BY row_number ASC
		 LIMIT $4`,
		jobID, statusStrings(statuses), afterRow, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch rows for job %s", jobID)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var rawJSON, fieldsJSON, errorsJSON []byte
		if err := rows.Scan(&r.JobID, &r.RowNumber, &r.Chunk, &r.Status, &rawJSON, &fieldsJSON, &errorsJSON, &r.LeadID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		if err := unmarshalRowMaps(&r, rawJSON, fieldsJSON, errorsJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch rows iterate")
}

func (s *PostgresStore) LeadKeyIndex(ctx context.Context, ownerID string, fields []string, nopts normalize.Options) (map[string]string, error) {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		col, err := leadColumn(f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}

	query := `SELECT id`
	for _, col := range cols {
		query += `, ` + col
	}
	query += ` FROM leads WHERE owner_id = $1`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load lead key index")
	}
	defer rows.Close()

	index := make(map[string]string)
	values := make([]string, len(cols))
	for rows.Next() {
		dest := make([]any, 0, len(cols)+1)
		var id string
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead keys")
		}
		indexLead(index, id, fields, values, nopts)
	}
	return index, eris.Wrap(rows.Err(), "postgres: load lead key index iterate")
}

func (s *PostgresStore) FindLeadsByField(ctx context.Context, ownerID, field string, values []string, nopts normalize.Options) (map[string]string, error) {
	col, err := leadColumn(field)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return map[string]string{}, nil
	}

	// Stored values are as entered, so candidates are normalized in Go
	// with the same normalizers the dedupe keys went through; SQL
	// lower() and Unicode case folding disagree on some inputs.
	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, `+col+` FROM leads WHERE owner_id = $1 AND `+col+` <> ''`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find leads by %s", field)
	}
	defer rows.Close()

	out := make(map[string]string, len(values))
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead match")
		}
		normalized := normalize.Apply(field, value, nopts)
		if !wanted[normalized] {
			continue
		}
		if _, ok := out[normalized]; !ok {
			out[normalized] = id
		}
	}
	return out, eris.Wrapf(rows.Err(), "postgres: find leads by %s iterate", field)
}

func (s *PostgresStore) CommitBatch(ctx context.Context, batch CommitBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Row resolutions are guarded on status = 'valid': zero rows
	// affected means another invocation already processed this row, and
	// the whole batch rolls back.
	for _, res := range batch.Resolutions {
		tag, err := tx.Exec(ctx,
			`UPDATE import_rows SET status = $3, lead_id = $4
			 WHERE job_id = $1 AND row_number = $2 AND status = 'valid'`,
			batch.JobID, res.RowNumber, string(res.Status), res.LeadID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: resolve row %d", res.RowNumber)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	if len(batch.Inserts) > 0 {
		copyRows := make([][]any, 0, len(batch.Inserts))
		for i := range batch.Inserts {
			copyRows = append(copyRows, leadCopyValues(&batch.Inserts[i]))
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"leads"}, leadCopyColumns, pgx.CopyFromRows(copyRows)); err != nil {
			return eris.Wrap(err, "postgres: COPY leads")
		}
	}

	for i := range batch.Updates {
		if err := updateLeadTx(ctx, tx, &batch.Updates[i]); err != nil {
			return err
		}
	}

	if len(batch.Events) > 0 {
		copyRows := make([][]any, 0, len(batch.Events))
		for i := range batch.Events {
			e := &batch.Events[i]
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now().UTC()
			}
			copyRows = append(copyRows, []any{e.ID, e.LeadID, e.JobID, e.RowNumber, string(e.Type), e.CreatedAt})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"lead_events"},
			[]string{"id", "lead_id", "job_id", "row_number", "event_type", "created_at"},
			pgx.CopyFromRows(copyRows)); err != nil {
			return eris.Wrap(err, "postgres: COPY lead events")
		}
	}

	// Counter update is guarded on the importing status and on the
	// imported + skipped <= valid invariant.
	tag, err := tx.Exec(ctx,
		`UPDATE import_jobs SET
			imported_rows = imported_rows + $2,
			skipped_rows = skipped_rows + $3,
			fallback_count = fallback_count + $4
		 WHERE id = $1 AND status = 'importing'
		   AND imported_rows + skipped_rows + $2 + $3 <= valid_rows`,
		batch.JobID, batch.ImportedDelta, batch.SkippedDelta, batch.FallbackDelta,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update counters for job %s", batch.JobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

var leadCopyColumns = []string{
	"id", "owner_id", "assigned_to", "email", "phone", "external_id",
	"first_name", "last_name", "company", "title", "city", "state",
	"postal_code", "status", "source", "created_at", "updated_at",
}

func leadCopyValues(l *model.Lead) []any {
	return []any{
		l.ID, l.OwnerID, l.AssignedTo, l.Email, l.Phone, l.ExternalID,
		l.FirstName, l.LastName, l.Company, l.Title, l.City, l.State,
		l.PostalCode, l.Status, l.Source, l.CreatedAt, l.UpdatedAt,
	}
}

func updateLeadTx(ctx context.Context, tx pgx.Tx, l *model.Lead) error {
	tag, err := tx.Exec(ctx,
		`UPDATE leads SET
			assigned_to = COALESCE(NULLIF($2, ''), assigned_to),
			email = COALESCE(NULLIF($3, ''), email),
			phone = COALESCE(NULLIF($4, ''), phone),
			external_id = COALESCE(NULLIF($5, ''), external_id),
			first_name = COALESCE(NULLIF($6, ''), first_name),
			last_name = COALESCE(NULLIF($7, ''), last_name),
			company = COALESCE(NULLIF($8, ''), company),
			title = COALESCE(NULLIF($9, ''), title),
			city = COALESCE(NULLIF($10, ''), city),
			state = COALESCE(NULLIF($11, ''), state),
			postal_code = COALESCE(NULLIF($12, ''), postal_code),
			status = COALESCE(NULLIF($13, ''), status),
			source = COALESCE(NULLIF($14, ''), source),
			updated_at = now()
		 WHERE id = $1`,
		l.ID, l.AssignedTo, l.Email, l.Phone, l.ExternalID,
		l.FirstName, l.LastName, l.Company, l.Title, l.City, l.State,
		l.PostalCode, l.Status, l.Source,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", l.ID)
	}
	return nil
}

// shared scan/marshal helpers

func marshalJobConfigs(job *model.Job) (mapping, assignment, duplicate []byte, err error) {
	if mapping, err = marshalNullable(job.Mapping); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal mapping")
	}
	if assignment, err = marshalNullable(job.Assignment); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal assignment")
	}
	if duplicate, err = marshalNullable(job.Duplicate); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal duplicate")
	}
	return mapping, assignment, duplicate, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *model.ColumnMapping:
		if t == nil {
			return nil, nil
		}
	case *model.AssignmentConfig:
		if t == nil {
			return nil, nil
		}
	case *model.DuplicateConfig:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func rowCopyValues(r *model.Row) ([]any, error) {
	rawJSON, err := json.Marshal(r.Raw)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal row raw")
	}
	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal row fields")
	}
	var errorsJSON []byte
	if r.Errors != nil {
		if errorsJSON, err = json.Marshal(r.Errors); err != nil {
			return nil, eris.Wrap(err, "store: marshal row errors")
		}
	}
	return []any{r.JobID, r.RowNumber, r.Chunk, string(r.Status), rawJSON, fieldsJSON, errorsJSON, r.LeadID}, nil
}

func unmarshalRowMaps(r *model.Row, rawJSON, fieldsJSON, errorsJSON []byte) error {
	if err := json.Unmarshal(rawJSON, &r.Raw); err != nil {
		return eris.Wrap(err, "store: unmarshal row raw")
	}
	if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
		return eris.Wrap(err, "store: unmarshal row fields")
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
			return eris.Wrap(err, "store: unmarshal row errors")
		}
	}
	return nil
}

// indexLead adds one lead's key fields to the dedupe index, normalizing
// stored values the same way parsed cells are normalized so matching
// stays exact downstream.
func indexLead(index map[string]string, id string, fields, values []string, nopts normalize.Options) {
	for i, field := range fields {
		value := normalize.Apply(field, values[i], nopts)
		if value == "" {
			continue
		}
		key := field + ":" + value
		if _, ok := index[key]; !ok {
			index[key] = id
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var mappingJSON, assignmentJSON, duplicateJSON, checkpointJSON []byte

	err := row.Scan(
		&j.ID, &j.OwnerID, &j.FileName, &j.FilePath, &j.FileHash, &j.FileType, &j.Status,
		&mappingJSON, &assignmentJSON, &duplicateJSON,
		&j.Counters.TotalRows, &j.Counters.ValidRows, &j.Counters.InvalidRows,
		&j.Counters.ImportedRows, &j.Counters.SkippedRows, &j.Counters.FallbackCount,
		&checkpointJSON, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalInto(mappingJSON, &j.Mapping); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal mapping")
	}
	if err := unmarshalInto(assignmentJSON, &j.Assignment); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal assignment")
	}
	if err := unmarshalInto(duplicateJSON, &j.Duplicate); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal duplicate")
	}
	if err := unmarshalInto(checkpointJSON, &j.Checkpoint); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal checkpoint")
	}
	return &j, nil
}

func unmarshalInto[T any](data []byte, target **T) error {
	if len(data) == 0 {
		return nil
	}
	*target = new(T)
	return json.Unmarshal(data, *target)
}
