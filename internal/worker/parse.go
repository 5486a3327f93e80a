package worker

import (
	"bytes"
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
	"github.com/sells-group/lead-import/internal/parser"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/resilience"
	"github.com/sells-group/lead-import/internal/store"
)

// Config holds the batch-size tunables shared by both workers. Sizes
// bound memory per invocation and single-operation payloads against the
// store; they are configuration, never baked into the algorithms.
type Config struct {
	ChunkSize   int `yaml:"chunk_size" mapstructure:"chunk_size"`
	FetchBatch  int `yaml:"fetch_batch" mapstructure:"fetch_batch"`
	InsertBatch int `yaml:"insert_batch" mapstructure:"insert_batch"`

	// MaxChunksPerInvoke bounds one invocation's work; when exhausted the
	// worker enqueues its own continuation so forward progress stays
	// provable under the platform's wall-clock budget. Zero means
	// unlimited.
	MaxChunksPerInvoke int `yaml:"max_chunks_per_invoke" mapstructure:"max_chunks_per_invoke"`

	Normalize normalize.Options `yaml:"normalize" mapstructure:"normalize"`
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = parser.DefaultChunkSize
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 500
	}
	if c.InsertBatch <= 0 {
		c.InsertBatch = 100
	}
	if c.Normalize == (normalize.Options{}) {
		c.Normalize = normalize.DefaultOptions()
	}
	return c
}

// Sentinel aborts threaded through the parse handler. Both are clean
// stops, not failures.
var (
	errHalted   = eris.New("worker: job no longer parsing")
	errBudget   = eris.New("worker: invocation chunk budget reached")
	errConflict = store.ErrConflict
)

// ParseWorker turns the uploaded file into persisted, validated rows.
type ParseWorker struct {
	store store.Store
	blobs blob.Store
	pub   queue.Publisher
	cfg   Config
}

func NewParseWorker(st store.Store, blobs blob.Store, pub queue.Publisher, cfg Config) *ParseWorker {
	return &ParseWorker{store: st, blobs: blobs, pub: pub, cfg: cfg.withDefaults()}
}

// Run executes one parse invocation for the message's job.
func (w *ParseWorker) Run(ctx context.Context, msg queue.Message) Result {
	log := zap.L().With(zap.String("worker", "parse"), zap.String("job_id", msg.JobID))

	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Terminal(err)
		}
		return Retryable(err)
	}

	switch job.Status {
	case model.JobStatusQueued:
		ok, err := w.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusQueued}, model.JobStatusParsing)
		if err != nil {
			return Retryable(err)
		}
		if !ok {
			log.Info("parse start lost the status race, skipping")
			return Success()
		}
	case model.JobStatusParsing:
		// Resume of an interrupted invocation.
	case model.JobStatusReady:
		// A prior invocation finished parsing but may have died before
		// enqueueing the commit; re-publishing is safe because commit is
		// idempotent.
		if err := w.pub.Publish(ctx, queue.NewCommitMessage(job.ID)); err != nil {
			return Retryable(err)
		}
		return Success()
	case model.JobStatusPending:
		return Retryable(eris.Errorf("worker: job %s not queued yet", job.ID))
	default:
		log.Info("job already past parsing, skipping", zap.String("status", string(job.Status)))
		return Success()
	}

	if job.Mapping == nil || !anyMapped(job.Mapping) {
		err := eris.Errorf("worker: job %s has no column mapping", job.ID)
		return w.fail(ctx, job.ID, err)
	}

	// Resume point: purge any rows at or past the checkpoint so a crash
	// after writing but before checkpointing leaves no duplicates.
	startRow := 1
	baseValid, baseInvalid := 0, 0
	if job.Checkpoint != nil {
		if _, err := w.store.DeleteRowsFrom(ctx, job.ID, job.Checkpoint.LastRowNumber); err != nil {
			return Retryable(err)
		}
		startRow = job.Checkpoint.LastRowNumber
		baseValid = job.Checkpoint.ValidCount
		baseInvalid = job.Checkpoint.InvalidCount
		log.Info("resuming from checkpoint",
			zap.Int("chunk", job.Checkpoint.Chunk),
			zap.Int("start_row", startRow))
	}

	data, err := w.blobs.Download(ctx, job.FilePath)
	if err != nil {
		if resilience.IsTransient(err) {
			return Retryable(err)
		}
		return w.fail(ctx, job.ID, err)
	}

	src, err := w.openSource(job, data)
	if err != nil {
		return w.fail(ctx, job.ID, err)
	}

	cumValid, cumInvalid := baseValid, baseInvalid
	chunksDone := 0
	handler := func(ctx context.Context, chunk parser.Chunk) error {
		// Cooperative cancellation: re-read status before committing the
		// chunk and stop with zero further mutations if it moved.
		cur, err := w.store.GetJob(ctx, job.ID)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		if cur.Status != model.JobStatusParsing {
			return errHalted
		}

		cumValid += chunk.Valid
		cumInvalid += chunk.Invalid
		progress := store.ParseProgress{
			Rows: chunk.Rows,
			Checkpoint: model.Checkpoint{
				Chunk:         chunk.Number,
				LastRowNumber: chunk.LastRowNumber() + 1,
				ValidCount:    cumValid,
				InvalidCount:  cumInvalid,
				UpdatedAt:     nowUTC(),
			},
			TotalDelta:   len(chunk.Rows),
			ValidDelta:   chunk.Valid,
			InvalidDelta: chunk.Invalid,
		}
		if err := w.store.SaveParseProgress(ctx, job.ID, progress); err != nil {
			if errors.Is(err, errConflict) {
				return errHalted
			}
			return resilience.NewTransientError(err, 0)
		}

		chunksDone++
		if w.cfg.MaxChunksPerInvoke > 0 && chunksDone >= w.cfg.MaxChunksPerInvoke {
			cont := queue.NewParseMessage(job.ID)
			cont.StartChunk = chunk.Number + 1
			if err := w.pub.Publish(ctx, cont); err != nil {
				return resilience.NewTransientError(err, 0)
			}
			return errBudget
		}
		return nil
	}

	opts := parser.Options{ChunkSize: w.cfg.ChunkSize, Normalize: w.cfg.Normalize}
	stats, err := parser.Parse(ctx, src, job.Mapping, job.ID, startRow, opts, handler)
	if err != nil {
		switch {
		case errors.Is(err, errHalted):
			log.Info("parse halted, job no longer parsing")
			return Success()
		case errors.Is(err, errBudget):
			log.Info("chunk budget reached, continuation enqueued",
				zap.Int("chunks", chunksDone))
			return Success()
		case resilience.IsTransient(err) || ctx.Err() != nil:
			return Retryable(err)
		default:
			// Deterministic source error: the file is malformed and a
			// redelivery would fail the same way.
			return w.fail(ctx, job.ID, err)
		}
	}

	ok, err := w.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusParsing}, model.JobStatusReady)
	if err != nil {
		return Retryable(err)
	}
	if !ok {
		log.Info("parse finished but job moved, skipping commit enqueue")
		return Success()
	}

	if err := w.pub.Publish(ctx, queue.NewCommitMessage(job.ID)); err != nil {
		// The ready-state guard above re-publishes on redelivery.
		return Retryable(err)
	}

	log.Info("parse complete",
		zap.Int("rows", stats.Total),
		zap.Int("valid", cumValid),
		zap.Int("invalid", cumInvalid))
	return Success()
}

func (w *ParseWorker) openSource(job *model.Job, data []byte) (parser.Source, error) {
	switch job.FileType {
	case model.FileTypeXLSX:
		return parser.NewXLSX(data, parser.XLSXOptions{SkipHeader: true})
	default:
		return parser.NewDelimited(bytes.NewReader(data), parser.DelimitedOptions{SkipHeader: true})
	}
}

// fail moves the job to failed and reports a terminal result.
func (w *ParseWorker) fail(ctx context.Context, jobID string, cause error) Result {
	if err := w.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		return Retryable(err)
	}
	return Terminal(cause)
}

func anyMapped(m *model.ColumnMapping) bool {
	for _, col := range m.Columns {
		if col.Target != "" {
			return true
		}
	}
	return false
}
