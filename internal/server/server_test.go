package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
	"github.com/sells-group/lead-import/internal/worker"
)

const testSecret = "test-webhook-secret"

type capturePublisher struct {
	messages []queue.Message
}

func (p *capturePublisher) Publish(_ context.Context, m queue.Message) error {
	p.messages = append(p.messages, m)
	return nil
}

type testEnv struct {
	store  *store.SQLiteStore
	blobs  *blob.LocalStore
	pub    *capturePublisher
	server *Server
	ts     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	pub := &capturePublisher{}
	cfg := worker.Config{ChunkSize: 100, FetchBatch: 100, InsertBatch: 50}
	parse := worker.NewParseWorker(st, blobs, pub, cfg)
	commit := worker.NewCommitWorker(st, pub, cfg)

	srv := New(Config{Port: 0, WebhookSecret: testSecret}, st, blobs, pub, parse, commit)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{store: st, blobs: blobs, pub: pub, server: srv, ts: ts}
}

func multipartUpload(t *testing.T, ownerID, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("owner_id", ownerID))
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) createJob(t *testing.T, ownerID, fileName, content string) model.Job {
	t.Helper()

	body, contentType := multipartUpload(t, ownerID, fileName, content)
	resp, err := http.Post(e.ts.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var job model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	return job
}

const testCSV = "Email,First Name,Company\nann@example.com,Ann,Acme\nbob@example.com,Bob,Globex\n"

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, "owner-1", "leads.csv", testCSV)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, model.FileTypeCSV, job.FileType)
	assert.NotEmpty(t, job.FileHash)

	require.NotNil(t, job.Mapping)
	require.Len(t, job.Mapping.Columns, 3)
	assert.Equal(t, "email", job.Mapping.Columns[0].Target)
	assert.Equal(t, "first_name", job.Mapping.Columns[1].Target)
	assert.Equal(t, "company", job.Mapping.Columns[2].Target)

	// The uploaded file must be retrievable under the job's path.
	data, err := env.blobs.Download(context.Background(), job.FilePath)
	require.NoError(t, err)
	assert.Equal(t, testCSV, string(data))
}

func TestCreateJob_DuplicateFile(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "owner-1", "leads.csv", testCSV)

	body, contentType := multipartUpload(t, "owner-1", "renamed.csv", testCSV)
	resp, err := http.Post(env.ts.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Same content from a different owner is not a duplicate.
	body, contentType = multipartUpload(t, "owner-2", "leads.csv", testCSV)
	resp2, err := http.Post(env.ts.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusCreated, resp2.StatusCode)
}

func TestCreateJob_Validation(t *testing.T) {
	env := newTestEnv(t)

	// Missing owner_id.
	body, contentType := multipartUpload(t, "", "leads.csv", testCSV)
	resp, err := http.Post(env.ts.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unsupported extension.
	body, contentType = multipartUpload(t, "owner-1", "leads.pdf", testCSV)
	resp, err = http.Post(env.ts.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp, err := http.Post(env.ts.URL+"/jobs/"+job.ID+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, env.pub.messages, 1)
	assert.Equal(t, queue.KindParse, env.pub.messages[0].Kind)
	assert.Equal(t, job.ID, env.pub.messages[0].JobID)

	// Starting twice conflicts; no second message is enqueued.
	resp, err = http.Post(env.ts.URL+"/jobs/"+job.ID+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, env.pub.messages, 1)
}

func TestStartJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.ts.URL+"/jobs/nope/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp, err := http.Post(env.ts.URL+"/jobs/"+job.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	// A second cancel hits a terminal job.
	resp, err = http.Post(env.ts.URL+"/jobs/"+job.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func patchJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPatch, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUpdateOptions(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp := patchJSON(t, env.ts.URL+"/jobs/"+job.ID+"/options",
		`{"assignment":{"mode":"round_robin","user_ids":["u-1","u-2"]},"duplicate":{"strategy":"skip","fields":["email"],"check_store":true}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Assignment)
	assert.Equal(t, model.AssignModeRoundRobin, got.Assignment.Mode)
	require.NotNil(t, got.Duplicate)
	assert.Equal(t, model.DupStrategySkip, got.Duplicate.Strategy)
}

func TestUpdateOptions_InvalidMode(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp := patchJSON(t, env.ts.URL+"/jobs/"+job.ID+"/options", `{"assignment":{"mode":"lottery"}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = patchJSON(t, env.ts.URL+"/jobs/"+job.ID+"/options", `{"duplicate":{"strategy":"merge"}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateOptions_FrozenOnceImporting(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	// Walk the job to importing through the normal transitions.
	ctx := context.Background()
	for _, to := range []model.JobStatus{
		model.JobStatusQueued, model.JobStatusParsing, model.JobStatusReady, model.JobStatusImporting,
	} {
		ok, err := env.store.TransitionJob(ctx, job.ID, model.CancellableStatuses, to)
		require.NoError(t, err)
		require.True(t, ok)
	}

	resp := patchJSON(t, env.ts.URL+"/jobs/"+job.ID+"/options", `{"assignment":{"mode":"none"}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetAndListJobs(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)
	env.createJob(t, "owner-2", "other.csv", "Email\ncarl@example.com\n")

	resp, err := http.Get(env.ts.URL + "/jobs/" + job.ID)
	require.NoError(t, err)
	var got model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, job.ID, got.ID)

	resp, err = http.Get(env.ts.URL + "/jobs?owner_id=owner-1")
	require.NoError(t, err)
	var jobs []model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	resp.Body.Close()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	resp, err = http.Get(env.ts.URL + "/jobs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobFileURL(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp, err := http.Get(env.ts.URL + "/jobs/" + job.ID + "/file")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	url, _ := out["url"].(string)
	assert.True(t, strings.HasPrefix(url, "file://"), url)
	assert.Contains(t, url, "imports/owner-1/")
	assert.EqualValues(t, 900, out["expires_in"])
}

func postWebhook(t *testing.T, url string, msg queue.Message, secret string) *http.Response {
	t.Helper()

	body, err := msg.Encode()
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(queue.SignatureHeader, queue.Sign(secret, body))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	msg := queue.NewParseMessage("job-1")

	resp := postWebhook(t, env.ts.URL+"/webhooks/import/parse", msg, "wrong-secret")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, env.ts.URL+"/webhooks/import/parse", msg, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_KindMismatch(t *testing.T) {
	env := newTestEnv(t)

	resp := postWebhook(t, env.ts.URL+"/webhooks/import/commit", queue.NewParseMessage("job-1"), testSecret)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_ParseRunsJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	resp, err := http.Post(env.ts.URL+"/jobs/"+job.ID+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postWebhook(t, env.ts.URL+"/webhooks/import/parse", env.pub.messages[0], testSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusReady, got.Status)
	assert.Equal(t, 2, got.Counters.TotalRows)
	assert.Equal(t, 2, got.Counters.ValidRows)
}

func TestWebhook_TerminalResultAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	// Unknown job: redelivery cannot fix it, so the queue gets a 200.
	resp := postWebhook(t, env.ts.URL+"/webhooks/import/parse", queue.NewParseMessage("gone"), testSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "terminal", out["result"])
}

func TestWebhook_RetryableResultAsks503(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(t, "owner-1", "leads.csv", testCSV)

	// A parse delivery for a job still pending arrived before the start
	// transition committed; the queue should redeliver.
	resp := postWebhook(t, env.ts.URL+"/webhooks/import/parse", queue.NewParseMessage(job.ID), testSecret)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthIdentity(t *testing.T) {
	env := newTestEnv(t)

	for path, want := range map[string]string{
		"/health":        "api",
		"/health/parse":  "parse-worker",
		"/health/commit": "commit-worker",
	} {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		resp.Body.Close()
		assert.Equal(t, want, out["worker"], path)
	}
}
