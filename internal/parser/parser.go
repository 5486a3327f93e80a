package parser

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
)

// DefaultChunkSize is the number of rows handed to the chunk handler at a
// time when the config does not override it.
const DefaultChunkSize = 500

// Options configures the parse loop.
type Options struct {
	ChunkSize int
	Normalize normalize.Options
}

// Chunk is one batch of parsed rows. Number is 1-based and derived from
// row position, so chunk numbering is stable across resumed invocations.
type Chunk struct {
	Number  int
	Rows    []model.Row
	Valid   int
	Invalid int
}

// LastRowNumber returns the row number of the final row in the chunk.
func (c *Chunk) LastRowNumber() int {
	return c.Rows[len(c.Rows)-1].RowNumber
}

// Handler receives each completed chunk before parsing continues. This is
// how the orchestration worker persists rows and checkpoints without
// buffering the whole file. A handler error aborts the parse.
type Handler func(ctx context.Context, chunk Chunk) error

// Stats summarizes the rows emitted by one Parse call. Rows below the
// start offset are re-read for numbering but not emitted or counted;
// cumulative job counters come from the checkpoint baseline plus Stats.
type Stats struct {
	Total         int
	Valid         int
	Invalid       int
	Chunks        int
	LastRowNumber int
}

// Parse walks the source, numbers non-blank data lines from 1, maps and
// normalizes each cell per the frozen column mapping, validates contact
// identity, and hands rows to the handler in chunks. startRow restarts an
// interrupted parse: rows numbered below it are skipped without being
// emitted.
func Parse(ctx context.Context, src Source, m *model.ColumnMapping, jobID string, startRow int, opts Options, handler Handler) (Stats, error) {
	if m == nil || len(m.Columns) == 0 {
		return Stats{}, eris.New("parser: column mapping is empty")
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if startRow < 1 {
		startRow = 1
	}

	var stats Stats
	var pending Chunk

	flush := func() error {
		if len(pending.Rows) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "parser: context cancelled")
		}
		if err := handler(ctx, pending); err != nil {
			return err
		}
		stats.Chunks++
		pending = Chunk{}
		return nil
	}

	rowNum := 0
	for {
		record, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}

		if blank(record) {
			continue
		}
		rowNum++
		if rowNum < startRow {
			continue
		}

		row := buildRow(record, m, jobID, rowNum, chunkSize, opts.Normalize)

		// Chunk boundary is positional, so flush when the derived
		// chunk number advances rather than on a simple size count.
		if len(pending.Rows) > 0 && row.Chunk != pending.Number {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		pending.Number = row.Chunk
		pending.Rows = append(pending.Rows, row)
		if row.Status == model.RowStatusValid {
			pending.Valid++
			stats.Valid++
		} else {
			pending.Invalid++
			stats.Invalid++
		}
		stats.Total++
		stats.LastRowNumber = rowNum
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// buildRow maps, normalizes and validates one record.
func buildRow(record []string, m *model.ColumnMapping, jobID string, rowNum, chunkSize int, nopts normalize.Options) model.Row {
	row := model.Row{
		JobID:     jobID,
		RowNumber: rowNum,
		Chunk:     (rowNum-1)/chunkSize + 1,
		Status:    model.RowStatusValid,
		Raw:       make(map[string]string, len(m.Columns)),
		Fields:    make(map[string]string),
	}

	for _, col := range m.Columns {
		if col.Index >= len(record) {
			continue
		}
		value := record[col.Index]
		row.Raw[col.Source] = value
		if col.Target == "" || strings.TrimSpace(value) == "" {
			continue
		}
		if normalized := normalize.Apply(col.Target, value, nopts); normalized != "" {
			row.Fields[col.Target] = normalized
		}
	}

	validate(&row)
	return row
}

// validate applies the row-level checks: at least one contact-identity
// field, and a structurally sound email when one is present. Failures are
// recorded per field and never abort the job.
func validate(row *model.Row) {
	if email, ok := row.Fields[model.FieldEmail]; ok && !normalize.ValidEmail(email) {
		setError(row, model.FieldEmail, "invalid email format")
		delete(row.Fields, model.FieldEmail)
	}

	hasIdentity := false
	for _, f := range model.IdentityFields {
		if row.Fields[f] != "" {
			hasIdentity = true
			break
		}
	}
	if !hasIdentity {
		setError(row, "contact", "at least one of email, phone or external id is required")
	}
}

func setError(row *model.Row, field, msg string) {
	if row.Errors == nil {
		row.Errors = make(map[string]string)
	}
	row.Errors[field] = msg
	row.Status = model.RowStatusInvalid
}

// blank reports whether every cell in the record is empty after trimming.
// Blank lines are dropped before numbering.
func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
