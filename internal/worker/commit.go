package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-import/internal/assign"
	"github.com/sells-group/lead-import/internal/dedupe"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
)

func nowUTC() time.Time { return time.Now().UTC() }

// CommitWorker turns valid rows into leads: dedupe, assignment, bulk
// insert/update, audit events and row resolution, one insert batch per
// transaction.
type CommitWorker struct {
	store store.Store
	pub   queue.Publisher
	cfg   Config
}

func NewCommitWorker(st store.Store, pub queue.Publisher, cfg Config) *CommitWorker {
	return &CommitWorker{store: st, pub: pub, cfg: cfg.withDefaults()}
}

// Run executes one commit invocation for the message's job.
func (w *CommitWorker) Run(ctx context.Context, msg queue.Message) Result {
	log := zap.L().With(zap.String("worker", "commit"), zap.String("job_id", msg.JobID))

	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Terminal(err)
		}
		return Retryable(err)
	}

	switch job.Status {
	case model.JobStatusReady:
		ok, err := w.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusReady}, model.JobStatusImporting)
		if err != nil {
			return Retryable(err)
		}
		if !ok {
			log.Info("commit start lost the status race, skipping")
			return Success()
		}
	case model.JobStatusImporting:
		// Resume of an interrupted invocation.
	case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
		log.Info("job already terminal, skipping", zap.String("status", string(job.Status)))
		return Success()
	default:
		return Retryable(eris.Errorf("worker: job %s not ready for commit (status %s)", job.ID, job.Status))
	}

	// The message may carry the effective configuration; the job record
	// is the fallback.
	assignCfg := msg.Assignment
	if assignCfg == nil {
		assignCfg = job.Assignment
	}
	dupCfg := msg.Duplicate
	if dupCfg == nil {
		dupCfg = job.Duplicate
	}
	defaults := model.RowDefaults{}
	if msg.Defaults != nil {
		defaults = *msg.Defaults
	}

	engine, err := w.buildEngine(ctx, job, dupCfg)
	if err != nil {
		return Retryable(err)
	}

	// The round-robin cursor lives for this invocation only; a restart
	// resets fairness, which is an accepted limitation.
	cursor := assign.Cursor(0)
	batches := 0
	afterRow := 0

	for {
		rows, err := w.store.FetchRows(ctx, job.ID, []model.RowStatus{model.RowStatusValid}, afterRow, w.cfg.FetchBatch)
		if err != nil {
			return Retryable(err)
		}
		if len(rows) == 0 {
			break
		}
		afterRow = rows[len(rows)-1].RowNumber

		for start := 0; start < len(rows); start += w.cfg.InsertBatch {
			end := min(start+w.cfg.InsertBatch, len(rows))

			// Cooperative cancellation: check status before each batch
			// commit and stop with zero further mutations.
			cur, err := w.store.GetJob(ctx, job.ID)
			if err != nil {
				return Retryable(err)
			}
			if cur.Status != model.JobStatusImporting {
				log.Info("commit halted, job no longer importing", zap.String("status", string(cur.Status)))
				return Success()
			}

			batch, newCursor, err := w.buildBatch(ctx, job, engine, assignCfg, defaults, rows[start:end], cursor)
			if err != nil {
				return Retryable(err)
			}
			cursor = newCursor

			if err := w.store.CommitBatch(ctx, batch); err != nil {
				if errors.Is(err, store.ErrConflict) {
					log.Info("commit batch refused, another invocation owns these rows")
					return Success()
				}
				return Retryable(err)
			}

			batches++
			if w.cfg.MaxChunksPerInvoke > 0 && batches >= w.cfg.MaxChunksPerInvoke {
				if err := w.pub.Publish(ctx, queue.NewCommitMessage(job.ID)); err != nil {
					return Retryable(err)
				}
				log.Info("batch budget reached, continuation enqueued", zap.Int("batches", batches))
				return Success()
			}
		}
	}

	ok, err := w.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusImporting}, model.JobStatusCompleted)
	if err != nil {
		return Retryable(err)
	}
	if !ok {
		log.Info("commit finished but job moved")
		return Success()
	}

	log.Info("commit complete", zap.Int("batches", batches))
	return Success()
}

// buildEngine preloads the store key index when configured and reseeds
// the in-file set from rows a prior invocation already imported, so
// in-file duplicate resolution survives a resume.
func (w *CommitWorker) buildEngine(ctx context.Context, job *model.Job, dupCfg *model.DuplicateConfig) (*dedupe.Engine, error) {
	var index map[string]string
	if dupCfg != nil && dupCfg.CheckStore && len(dupCfg.Fields) > 0 {
		var err error
		index, err = w.store.LeadKeyIndex(ctx, job.OwnerID, dupCfg.Fields, w.cfg.Normalize)
		if err != nil {
			return nil, err
		}
	}
	engine := dedupe.NewEngine(dupCfg, index)

	if dupCfg != nil && dupCfg.CheckFile {
		afterRow := 0
		for {
			rows, err := w.store.FetchRows(ctx, job.ID, []model.RowStatus{model.RowStatusImported}, afterRow, w.cfg.FetchBatch)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				break
			}
			for i := range rows {
				if rows[i].LeadID != nil {
					engine.Accept(&rows[i], *rows[i].LeadID)
				}
			}
			afterRow = rows[len(rows)-1].RowNumber
		}
	}
	return engine, nil
}

// buildBatch resolves one insert batch of rows into a CommitBatch. Rows
// are processed in ascending row-number order; acceptance feeds the
// in-file set immediately so a later duplicate in the same batch resolves
// to its first occurrence.
func (w *CommitWorker) buildBatch(ctx context.Context, job *model.Job, engine *dedupe.Engine,
	assignCfg *model.AssignmentConfig, defaults model.RowDefaults,
	rows []model.Row, cursor assign.Cursor) (store.CommitBatch, assign.Cursor, error) {

	batch := store.CommitBatch{JobID: job.ID}
	now := nowUTC()
	decisions := make(map[int]dedupe.Decision, len(rows))

	type planned struct {
		action   dedupe.Action
		leadID   string
		fallback bool
		update   bool
	}
	plan := make([]planned, len(rows))

	for i := range rows {
		row := &rows[i]
		d := engine.Resolve(row)
		decisions[i] = d

		switch d.Action {
		case dedupe.ActionInsert:
			res, next := assign.Next(assignCfg, row, cursor)
			cursor = next
			leadID := uuid.New().String()
			plan[i] = planned{action: dedupe.ActionInsert, leadID: leadID, fallback: res.Fallback}

			lead := model.LeadFromRow(row, job.OwnerID, defaults)
			lead.ID = leadID
			lead.AssignedTo = res.UserID
			lead.CreatedAt, lead.UpdatedAt = now, now
			batch.Inserts = append(batch.Inserts, lead)
			engine.Accept(row, leadID)

		case dedupe.ActionUpdate:
			// Acceptance is deferred to the second pass: a store-sourced
			// match can turn out stale during live re-resolution, and a
			// row that falls back to skip must not feed the in-file set.
			plan[i] = planned{action: dedupe.ActionUpdate, leadID: d.Match.LeadID, update: true}

		default: // skip
			plan[i] = planned{action: dedupe.ActionSkip, leadID: d.Match.LeadID}
		}
	}

	// Store-sourced update matches are re-resolved against the live
	// store in one query per field; a value that no longer resolves
	// (stale index) falls back to skip.
	live, err := w.resolveUpdates(ctx, job.OwnerID, decisions)
	if err != nil {
		return store.CommitBatch{}, cursor, err
	}

	for i := range rows {
		row := &rows[i]
		p := plan[i]
		d := decisions[i]

		if p.update && d.Match.Source == dedupe.SourceStore {
			if id, ok := live[dedupe.Key(d.Match.Field, d.Match.Value)]; ok {
				p.leadID = id
			} else {
				p = planned{action: dedupe.ActionSkip}
			}
		}

		switch p.action {
		case dedupe.ActionInsert:
			batch.Events = append(batch.Events, model.Event{
				LeadID: p.leadID, JobID: job.ID, RowNumber: row.RowNumber,
				Type: model.EventLeadImported, CreatedAt: now,
			})
			batch.Resolutions = append(batch.Resolutions, model.RowResolution{
				RowNumber: row.RowNumber, Status: model.RowStatusImported, LeadID: &p.leadID,
			})
			batch.ImportedDelta++
			if p.fallback {
				batch.FallbackDelta++
			}

		case dedupe.ActionUpdate:
			engine.Accept(row, p.leadID)
			// Updates fill or overwrite provided fields and keep the
			// existing owner; assignment applies to new leads only.
			lead := model.LeadFromRow(row, job.OwnerID, defaults)
			lead.ID = p.leadID
			batch.Updates = append(batch.Updates, lead)
			batch.Events = append(batch.Events, model.Event{
				LeadID: p.leadID, JobID: job.ID, RowNumber: row.RowNumber,
				Type: model.EventLeadUpdated, CreatedAt: now,
			})
			batch.Resolutions = append(batch.Resolutions, model.RowResolution{
				RowNumber: row.RowNumber, Status: model.RowStatusImported, LeadID: &p.leadID,
			})
			batch.ImportedDelta++

		default:
			res := model.RowResolution{RowNumber: row.RowNumber, Status: model.RowStatusSkipped}
			if p.leadID != "" {
				id := p.leadID
				res.LeadID = &id
			}
			batch.Resolutions = append(batch.Resolutions, res)
			batch.SkippedDelta++
		}
	}

	return batch, cursor, nil
}

// resolveUpdates runs the batched update-strategy lookups, one query per
// match field, concurrently.
func (w *CommitWorker) resolveUpdates(ctx context.Context, ownerID string, decisions map[int]dedupe.Decision) (map[string]string, error) {
	groups := dedupe.GroupUpdates(decisions)
	if len(groups) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	live := make(map[string]string)
	g, gctx := errgroup.WithContext(ctx)
	for field, values := range groups {
		field, values := field, values
		g.Go(func() error {
			matches, err := w.store.FindLeadsByField(gctx, ownerID, field, values, w.cfg.Normalize)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for value, leadID := range matches {
				live[dedupe.Key(field, value)] = leadID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return live, nil
}
