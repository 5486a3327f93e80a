package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs the
// local runner and the store tests; production uses PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	file_name      TEXT NOT NULL DEFAULT '',
	file_path      TEXT NOT NULL DEFAULT '',
	file_hash      TEXT NOT NULL DEFAULT '',
	file_type      TEXT NOT NULL DEFAULT 'csv',
	status         TEXT NOT NULL DEFAULT 'pending',
	mapping        TEXT,
	assignment     TEXT,
	duplicate      TEXT,
	total_rows     INTEGER NOT NULL DEFAULT 0,
	valid_rows     INTEGER NOT NULL DEFAULT 0,
	invalid_rows   INTEGER NOT NULL DEFAULT 0,
	imported_rows  INTEGER NOT NULL DEFAULT 0,
	skipped_rows   INTEGER NOT NULL DEFAULT 0,
	fallback_count INTEGER NOT NULL DEFAULT 0,
	checkpoint     TEXT,
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at     DATETIME,
	completed_at   DATETIME
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
	raw        TEXT NOT NULL,
	fields     TEXT NOT NULL,
	errors     TEXT,
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
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
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
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead ON lead_events(lead_id);
CREATE INDEX IF NOT EXISTS idx_lead_events_job ON lead_events(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, owner_id, file_name, file_path, file_hash, file_type, status, mapping, assignment, duplicate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.FileName, job.FilePath, job.FileHash,
		string(job.FileType), string(job.Status),
		nullString(mappingJSON), nullString(assignmentJSON), nullString(duplicateJSON), job.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateFile
		}
		return eris.Wrap(err, "sqlite: insert job")
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobSelectColumns+` FROM import_jobs WHERE id = ?`, id)

	job, err := scanJobSQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM import_jobs WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, from []model.JobStatus, to model.JobStatus) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE import_jobs SET status = ?,
		started_at = CASE WHEN ? = 'parsing' AND started_at IS NULL THEN ? ELSE started_at END,
		completed_at = CASE WHEN ? IN ('completed', 'failed', 'cancelled') THEN ? ELSE completed_at END
	 WHERE id = ? AND status IN ` + placeholders(len(from))

	args := []any{string(to), string(to), now, string(to), now, id}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition job %s to %s", id, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		message, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) UpdateJobOptions(ctx context.Context, id string, assignment *model.AssignmentConfig, duplicate *model.DuplicateConfig) (bool, error) {
	assignmentJSON, err := marshalNullable(assignment)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal assignment")
	}
	duplicateJSON, err := marshalNullable(duplicate)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal duplicate")
	}

	query := `UPDATE import_jobs SET assignment = ?, duplicate = ?
	 WHERE id = ? AND status IN ` + placeholders(len(model.PreCommitStatuses))
	args := []any{nullString(assignmentJSON), nullString(duplicateJSON), id}
	for _, st := range model.PreCommitStatuses {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update job options %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) SaveParseProgress(ctx context.Context, jobID string, progress ParseProgress) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin parse progress")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range progress.Rows {
		values, err := rowCopyValues(&progress.Rows[i])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO import_rows (job_id, row_number, chunk, status, raw, fields, errors, lead_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			values...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d", progress.Rows[i].RowNumber)
		}
	}

	checkpointJSON, err := json.Marshal(progress.Checkpoint)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE import_jobs SET
			total_rows = total_rows + ?,
			valid_rows = valid_rows + ?,
			invalid_rows = invalid_rows + ?,
			checkpoint = ?
		 WHERE id = ? AND status = 'parsing'`,
		progress.TotalDelta, progress.ValidDelta, progress.InvalidDelta, string(checkpointJSON), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save checkpoint for job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit parse progress")
}

func (s *SQLiteStore) DeleteRowsFrom(ctx context.Context, jobID string, fromRow int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM import_rows WHERE job_id = ? AND row_number >= ?`,
		jobID, fromRow,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete rows for job %s", jobID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) FetchRows(ctx context.Context, jobID string, statuses []model.RowStatus, afterRow, limit int) ([]model.Row, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT job_id, row_number, chunk, status, raw, fields, errors, lead_id
	 FROM import_rows
	 WHERE job_id = ? AND status IN ` + placeholders(len(statuses)) + ` AND row_number > ?
	 ORDER BY row_number ASC
	 LIMIT ?`

	args := []any{jobID}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, afterRow, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch rows for job %s", jobID)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var rawJSON, fieldsJSON string
		var errorsJSON, leadID sql.NullString
		if err := rows.Scan(&r.JobID, &r.RowNumber, &r.Chunk, &r.Status, &rawJSON, &fieldsJSON, &errorsJSON, &leadID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		var errs []byte
		if errorsJSON.Valid {
			errs = []byte(errorsJSON.String)
		}
		if leadID.Valid {
			r.LeadID = &leadID.String
		}
		if err := unmarshalRowMaps(&r, []byte(rawJSON), []byte(fieldsJSON), errs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch rows iterate")
}

func (s *SQLiteStore) LeadKeyIndex(ctx context.Context, ownerID string, fields []string, nopts normalize.Options) (map[string]string, error) {
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
	query += ` FROM leads WHERE owner_id = ?`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load lead key index")
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
			return nil, eris.Wrap(err, "sqlite: scan lead keys")
		}
		indexLead(index, id, fields, values, nopts)
	}
	return index, eris.Wrap(rows.Err(), "sqlite: load lead key index iterate")
}

func (s *SQLiteStore) FindLeadsByField(ctx context.Context, ownerID, field string, values []string, nopts normalize.Options) (map[string]string, error) {
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, `+col+` FROM leads WHERE owner_id = ? AND `+col+` <> ''`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find leads by %s", field)
	}
	defer rows.Close()

	out := make(map[string]string, len(values))
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead match")
		}
		normalized := normalize.Apply(field, value, nopts)
		if !wanted[normalized] {
			continue
		}
		if _, ok := out[normalized]; !ok {
			out[normalized] = id
		}
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: find leads by %s iterate", field)
}

func (s *SQLiteStore) CommitBatch(ctx context.Context, batch CommitBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit batch")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, res := range batch.Resolutions {
		r, err := tx.ExecContext(ctx,
			`UPDATE import_rows SET status = ?, lead_id = ?
			 WHERE job_id = ? AND row_number = ? AND status = 'valid'`,
			string(res.Status), res.LeadID, batch.JobID, res.RowNumber,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: resolve row %d", res.RowNumber)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return ErrConflict
		}
	}

	for i := range batch.Inserts {
		l := &batch.Inserts[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, owner_id, assigned_to, email, phone, external_id, first_name, last_name, company, title, city, state, postal_code, status, source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			leadCopyValues(l)...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
		}
	}

	for i := range batch.Updates {
		l := &batch.Updates[i]
		r, err := tx.ExecContext(ctx,
			`UPDATE leads SET
				assigned_to = CASE WHEN ? <> '' THEN ? ELSE assigned_to END,
				email = CASE WHEN ? <> '' THEN ? ELSE email END,
				phone = CASE WHEN ? <> '' THEN ? ELSE phone END,
				external_id = CASE WHEN ? <> '' THEN ? ELSE external_id END,
				first_name = CASE WHEN ? <> '' THEN ? ELSE first_name END,
				last_name = CASE WHEN ? <> '' THEN ? ELSE last_name END,
				company = CASE WHEN ? <> '' THEN ? ELSE company END,
				title = CASE WHEN ? <> '' THEN ? ELSE title END,
				city = CASE WHEN ? <> '' THEN ? ELSE city END,
				state = CASE WHEN ? <> '' THEN ? ELSE state END,
				postal_code = CASE WHEN ? <> '' THEN ? ELSE postal_code END,
				status = CASE WHEN ? <> '' THEN ? ELSE status END,
				source = CASE WHEN ? <> '' THEN ? ELSE source END,
				updated_at = ?
			 WHERE id = ?`,
			doubled(l.AssignedTo, l.Email, l.Phone, l.ExternalID,
				l.FirstName, l.LastName, l.Company, l.Title, l.City, l.State,
				l.PostalCode, l.Status, l.Source,
				time.Now().UTC(), l.ID)...,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
		}
		if err := checkRowsAffected(r, "lead", l.ID); err != nil {
			return err
		}
	}

	for i := range batch.Events {
		e := &batch.Events[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lead_events (id, lead_id, job_id, row_number, event_type, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.LeadID, e.JobID, e.RowNumber, string(e.Type), e.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert lead event")
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE import_jobs SET
			imported_rows = imported_rows + ?,
			skipped_rows = skipped_rows + ?,
			fallback_count = fallback_count + ?
		 WHERE id = ? AND status = 'importing'
		   AND imported_rows + skipped_rows + ? + ? <= valid_rows`,
		batch.ImportedDelta, batch.SkippedDelta, batch.FallbackDelta,
		batch.JobID, batch.ImportedDelta, batch.SkippedDelta,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update counters for job %s", batch.JobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrConflict
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// placeholders builds "(?, ?, ?)" for n values.
func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// doubled repeats each leading string argument twice for the CASE WHEN
// pattern; non-string trailing args pass through once.
func doubled(args ...any) []any {
	out := make([]any, 0, len(args)*2)
	for _, a := range args {
		if s, ok := a.(string); ok {
			out = append(out, s, s)
			continue
		}
		out = append(out, a)
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJobSQLite(row scannable) (*model.Job, error) {
	var j model.Job
	var mappingJSON, assignmentJSON, duplicateJSON, checkpointJSON sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.OwnerID, &j.FileName, &j.FilePath, &j.FileHash, &j.FileType, &j.Status,
		&mappingJSON, &assignmentJSON, &duplicateJSON,
		&j.Counters.TotalRows, &j.Counters.ValidRows, &j.Counters.InvalidRows,
		&j.Counters.ImportedRows, &j.Counters.SkippedRows, &j.Counters.FallbackCount,
		&checkpointJSON, &j.Error, &j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if err := unmarshalNullInto(mappingJSON, &j.Mapping); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal mapping")
	}
	if err := unmarshalNullInto(assignmentJSON, &j.Assignment); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal assignment")
	}
	if err := unmarshalNullInto(duplicateJSON, &j.Duplicate); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal duplicate")
	}
	if err := unmarshalNullInto(checkpointJSON, &j.Checkpoint); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
	}
	return &j, nil
}

func unmarshalNullInto[T any](data sql.NullString, target **T) error {
	if !data.Valid || data.String == "" {
		return nil
	}
	*target = new(T)
	return json.Unmarshal([]byte(data.String), *target)
}
