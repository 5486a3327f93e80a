package queue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-import/internal/resilience"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"kind":"parse","job_id":"job-1"}`)

	sig := Sign("secret", body)
	assert.True(t, Verify("secret", body, sig))
	assert.False(t, Verify("other-secret", body, sig))
	assert.False(t, Verify("secret", []byte(`tampered`), sig))
	assert.False(t, Verify("secret", body, ""))

	// Signing is deterministic per secret and body.
	assert.Equal(t, sig, Sign("secret", body))
}

func TestMessageEncodeDecode(t *testing.T) {
	m := NewParseMessage("job-1")
	m.StartChunk = 4

	data, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, KindParse, got.Kind)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, 4, got.StartChunk)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"kind":"parse"}`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"kind":"reticulate","job_id":"job-1"}`))
	assert.Error(t, err)
}

func TestHTTPDeliverer_SignsAndPosts(t *testing.T) {
	var gotPath, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, "secret")
	err := d.Deliver(context.Background(), NewCommitMessage("job-1"))
	require.NoError(t, err)

	assert.Equal(t, "/webhooks/import/commit", gotPath)
	assert.True(t, Verify("secret", gotBody, gotSig))
}

func TestHTTPDeliverer_TransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, "secret")
	d.retry.InitialBackoff = 1 // immediate in-process retry for the test

	err := d.Deliver(context.Background(), NewParseMessage("job-1"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	// MaxAttempts = 2 inside the deliverer before the queue takes over.
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPDeliverer_PermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL, "secret")
	err := d.Deliver(context.Background(), NewParseMessage("job-1"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDeliverer_UnknownKind(t *testing.T) {
	d := NewHTTPDeliverer("http://localhost:0", "secret")
	err := d.Deliver(context.Background(), Message{Kind: "bogus", JobID: "job-1"})
	assert.Error(t, err)
}
