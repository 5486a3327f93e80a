package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-import/internal/assign"
	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/dedupe"
	"github.com/sells-group/lead-import/internal/mapping"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/normalize"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
)

// recordingPublisher collects published messages in order.
type recordingPublisher struct {
	messages []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, m queue.Message) error {
	p.messages = append(p.messages, m)
	return nil
}

func (p *recordingPublisher) pop() (queue.Message, bool) {
	if len(p.messages) == 0 {
		return queue.Message{}, false
	}
	m := p.messages[0]
	p.messages = p.messages[1:]
	return m, true
}

type pipeline struct {
	store  *store.SQLiteStore
	blobs  *blob.LocalStore
	pub    *recordingPublisher
	parse  *ParseWorker
	commit *CommitWorker
}

func newPipeline(t *testing.T, cfg Config) *pipeline {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return &pipeline{
		store:  st,
		blobs:  blobs,
		pub:    pub,
		parse:  NewParseWorker(st, blobs, pub, cfg),
		commit: NewCommitWorker(st, pub, cfg),
	}
}

// tenRowCSV has 8 rows with contact identity (one a duplicate email of
// row 1 and one with the same email as an existing store lead) and 2
// without, plus a blank line that must not be numbered.
const tenRowCSV = `Email,Phone,First Name,Company
ann@example.com,555-000-1111,Ann,Acme
bob@example.com,555-000-2222,Bob,Beta
,,NoContact,Gamma

carl@example.com,555-000-3333,Carl,Delta
dina@example.com,555-000-4444,Dina,Epsilon
ANN@example.com,555-000-5555,Ann Again,Acme
,,AlsoNoContact,Zeta
eve@example.com,555-000-6666,Eve,Eta
existing@example.com,555-000-7777,Exi,Theta
fay@example.com,555-000-8888,Fay,Iota
`

// startJob creates a job with the CSV uploaded and status queued, the
// state a parse message finds it in. The mapping is detected from the
// CSV's header unless the job carries one.
func (p *pipeline) startJob(t *testing.T, csv string, job *model.Job) *model.Job {
	t.Helper()
	ctx := context.Background()

	key := blob.ObjectKey(job.OwnerID, job.FileName)
	hash, err := p.blobs.Upload(ctx, key, strings.NewReader(csv))
	require.NoError(t, err)

	job.FilePath = key
	job.FileHash = hash
	job.FileType = model.FileTypeCSV
	if job.Mapping == nil {
		header := strings.Split(strings.SplitN(csv, "\n", 2)[0], ",")
		job.Mapping = mapping.Detect(header)
	}
	require.NoError(t, p.store.CreateJob(ctx, job))

	ok, err := p.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusQueued)
	require.NoError(t, err)
	require.True(t, ok)
	return job
}

// drain runs parse and commit messages to quiescence, asserting every
// invocation succeeds.
func (p *pipeline) drain(t *testing.T, ctx context.Context) {
	t.Helper()
	for {
		m, ok := p.pub.pop()
		if !ok {
			return
		}
		var res Result
		switch m.Kind {
		case queue.KindParse:
			res = p.parse.Run(ctx, m)
		case queue.KindCommit:
			res = p.commit.Run(ctx, m)
		}
		require.Equal(t, CodeSuccess, res.Code, "message %s for %s: %v", m.Kind, m.JobID, res.Err)
	}
}

func seedExistingLead(t *testing.T, p *pipeline, ownerID, email string) {
	t.Helper()
	ctx := context.Background()

	// An existing lead lands through a tiny separate import.
	job := p.startJob(t, "Email\n"+email+"\n", &model.Job{OwnerID: ownerID, FileName: "seed.csv"})
	res := p.parse.Run(ctx, queue.NewParseMessage(job.ID))
	require.Equal(t, CodeSuccess, res.Code)
	p.drain(t, ctx)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, got.Status)
	require.Equal(t, 1, got.Counters.ImportedRows)
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := newPipeline(t, Config{ChunkSize: 4})
	ctx := context.Background()

	seedExistingLead(t, p, "owner-1", "existing@example.com")

	job := p.startJob(t, tenRowCSV, &model.Job{
		OwnerID:  "owner-1",
		FileName: "leads.csv",
		Assignment: &model.AssignmentConfig{
			Mode:    model.AssignModeRoundRobin,
			UserIDs: []string{"u-1", "u-2", "u-3"},
		},
		Duplicate: &model.DuplicateConfig{
			Strategy:   model.DupStrategySkip,
			Fields:     []string{model.FieldEmail},
			CheckStore: true,
			CheckFile:  true,
		},
	})

	res := p.parse.Run(ctx, queue.NewParseMessage(job.ID))
	require.Equal(t, CodeSuccess, res.Code)
	p.drain(t, ctx)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	// 10 data rows (blank line dropped): 2 invalid, 8 valid; of the
	// valid, the repeated in-file email and the pre-existing store email
	// are skipped, 6 imported.
	assert.Equal(t, 10, got.Counters.TotalRows)
	assert.Equal(t, 8, got.Counters.ValidRows)
	assert.Equal(t, 2, got.Counters.InvalidRows)
	assert.Equal(t, 6, got.Counters.ImportedRows)
	assert.Equal(t, 2, got.Counters.SkippedRows)
	assert.NotNil(t, got.CompletedAt)

	// Row numbers are contiguous 1..10 with no duplicates.
	rows, err := p.store.FetchRows(ctx, job.ID, []model.RowStatus{
		model.RowStatusValid, model.RowStatusInvalid, model.RowStatusImported, model.RowStatusSkipped,
	}, 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for i, r := range rows {
		assert.Equal(t, i+1, r.RowNumber)
	}

	// The skipped in-file duplicate resolves to the first occurrence's
	// lead, not a new one.
	var first, dup *model.Row
	for i := range rows {
		switch rows[i].RowNumber {
		case 1:
			first = &rows[i]
		case 6:
			dup = &rows[i]
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, dup)
	assert.Equal(t, model.RowStatusImported, first.Status)
	assert.Equal(t, model.RowStatusSkipped, dup.Status)
	require.NotNil(t, dup.LeadID)
	assert.Equal(t, *first.LeadID, *dup.LeadID)
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	job := p.startJob(t, tenRowCSV, &model.Job{OwnerID: "owner-1", FileName: "leads.csv"})

	parseMsg := queue.NewParseMessage(job.ID)
	require.Equal(t, CodeSuccess, p.parse.Run(ctx, parseMsg).Code)
	commitMsg, ok := p.pub.pop()
	require.True(t, ok)
	require.Equal(t, queue.KindCommit, commitMsg.Kind)
	require.Equal(t, CodeSuccess, p.commit.Run(ctx, commitMsg).Code)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	imported := got.Counters.ImportedRows

	// Redelivered parse re-publishes commit (idempotent) from ready; on
	// a completed job both messages are clean no-ops with no counter
	// drift.
	require.Equal(t, CodeSuccess, p.parse.Run(ctx, parseMsg).Code)
	require.Equal(t, CodeSuccess, p.commit.Run(ctx, commitMsg).Code)

	got, err = p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, imported, got.Counters.ImportedRows)
}

func TestParseWorker_ChunkBudgetEnqueuesContinuation(t *testing.T) {
	p := newPipeline(t, Config{ChunkSize: 3, MaxChunksPerInvoke: 1})
	ctx := context.Background()

	job := p.startJob(t, tenRowCSV, &model.Job{OwnerID: "owner-1", FileName: "leads.csv"})

	res := p.parse.Run(ctx, queue.NewParseMessage(job.ID))
	require.Equal(t, CodeSuccess, res.Code)

	// One chunk persisted, continuation enqueued, job still parsing.
	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusParsing, got.Status)
	assert.Equal(t, 3, got.Counters.TotalRows)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, 1, got.Checkpoint.Chunk)

	cont, ok := p.pub.pop()
	require.True(t, ok)
	assert.Equal(t, queue.KindParse, cont.Kind)
	assert.Equal(t, 2, cont.StartChunk)

	// Driving the remaining messages finishes the job with contiguous
	// rows despite the interruptions.
	p.pub.messages = append(p.pub.messages, cont)
	p.drain(t, ctx)

	got, err = p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 10, got.Counters.TotalRows)
}

func TestCommitWorker_CancelledBeforeStartMutatesNothing(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	job := p.startJob(t, tenRowCSV, &model.Job{OwnerID: "owner-1", FileName: "leads.csv"})
	require.Equal(t, CodeSuccess, p.parse.Run(ctx, queue.NewParseMessage(job.ID)).Code)

	ok, err := p.store.TransitionJob(ctx, job.ID, model.CancellableStatuses, model.JobStatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	res := p.commit.Run(ctx, queue.NewCommitMessage(job.ID))
	assert.Equal(t, CodeSuccess, res.Code)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.Counters.ImportedRows)
	assert.Equal(t, 0, got.Counters.SkippedRows)

	rows, err := p.store.FetchRows(ctx, job.ID, []model.RowStatus{model.RowStatusImported, model.RowStatusSkipped}, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseWorker_MissingMappingFailsJob(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	job := p.startJob(t, tenRowCSV, &model.Job{
		OwnerID:  "owner-1",
		FileName: "leads.csv",
		Mapping:  &model.ColumnMapping{Columns: []model.ColumnMap{{Source: "Email", Index: 0}}},
	})

	res := p.parse.Run(ctx, queue.NewParseMessage(job.ID))
	assert.Equal(t, CodeTerminal, res.Code)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestParseWorker_UnknownJobIsTerminal(t *testing.T) {
	p := newPipeline(t, Config{})

	res := p.parse.Run(context.Background(), queue.NewParseMessage("missing"))
	assert.Equal(t, CodeTerminal, res.Code)
}

func TestCommitWorker_UpdateStrategy(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	seedExistingLead(t, p, "owner-1", "ann@example.com")

	job := p.startJob(t, "Email,Company\nann@example.com,NewCo\nzed@example.com,FreshCo\n", &model.Job{
		OwnerID:  "owner-1",
		FileName: "update.csv",
		Duplicate: &model.DuplicateConfig{
			Strategy:   model.DupStrategyUpdate,
			Fields:     []string{model.FieldEmail},
			CheckStore: true,
			CheckFile:  true,
		},
	})

	require.Equal(t, CodeSuccess, p.parse.Run(ctx, queue.NewParseMessage(job.ID)).Code)
	p.drain(t, ctx)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	// Both rows count as imported: one updated the existing lead, one
	// inserted fresh.
	assert.Equal(t, 2, got.Counters.ImportedRows)
	assert.Equal(t, 0, got.Counters.SkippedRows)

	// The duplicate row resolved to the existing lead rather than a new
	// record.
	matches, err := p.store.FindLeadsByField(ctx, "owner-1", model.FieldEmail,
		[]string{"ann@example.com", "zed@example.com"}, normalize.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestCommitWorker_StaleIndexMatchFallsBackToSkip(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	// The preloaded key index can point at a lead that no longer exists.
	// Live re-resolution finds nothing, so the row falls back to skip —
	// and its keys must not seed the in-file set, or a later row with the
	// same email would resolve to the dead lead id and poison the batch.
	engine := dedupe.NewEngine(&model.DuplicateConfig{
		Strategy:   model.DupStrategyUpdate,
		Fields:     []string{model.FieldEmail},
		CheckStore: true,
		CheckFile:  true,
	}, map[string]string{
		dedupe.Key(model.FieldEmail, "gone@example.com"): "lead-gone",
	})

	job := &model.Job{ID: "job-1", OwnerID: "owner-1"}
	rows := []model.Row{
		{JobID: job.ID, RowNumber: 1, Fields: map[string]string{model.FieldEmail: "gone@example.com"}},
		{JobID: job.ID, RowNumber: 2, Fields: map[string]string{model.FieldEmail: "gone@example.com"}},
	}

	batch, _, err := p.commit.buildBatch(ctx, job, engine, nil, model.RowDefaults{}, rows, assign.Cursor(0))
	require.NoError(t, err)

	assert.Empty(t, batch.Inserts)
	assert.Empty(t, batch.Updates)
	assert.Empty(t, batch.Events)
	assert.Equal(t, 0, batch.ImportedDelta)
	assert.Equal(t, 2, batch.SkippedDelta)
	require.Len(t, batch.Resolutions, 2)
	for _, res := range batch.Resolutions {
		assert.Equal(t, model.RowStatusSkipped, res.Status)
		assert.Nil(t, res.LeadID)
	}
}

func TestCommitWorker_ByColumnFallbackCounted(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	csv := "Email,Sales Rep\nann@example.com,Ann\nbob@example.com,Nobody\ncarl@example.com,\n"
	job := p.startJob(t, csv, &model.Job{
		OwnerID:  "owner-1",
		FileName: "reps.csv",
		Assignment: &model.AssignmentConfig{
			Mode:          model.AssignModeByColumn,
			Column:        "Sales Rep",
			Table:         map[string]string{"Ann": "u-1"},
			DefaultUserID: "u-default",
		},
	})

	require.Equal(t, CodeSuccess, p.parse.Run(ctx, queue.NewParseMessage(job.ID)).Code)
	p.drain(t, ctx)

	got, err := p.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Counters.ImportedRows)
	assert.Equal(t, 2, got.Counters.FallbackCount)
}
