package blob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_UploadDownloadDelete(t *testing.T) {
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := "Email,First Name\nann@example.com,Ann\n"
	hash, err := st.Upload(ctx, "imports/owner-1/leads.csv", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte(content)), hash)

	data, err := st.Download(ctx, "imports/owner-1/leads.csv")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	require.NoError(t, st.Delete(ctx, "imports/owner-1/leads.csv"))
	_, err = st.Download(ctx, "imports/owner-1/leads.csv")
	assert.Error(t, err)

	// Deleting a missing key is a no-op.
	assert.NoError(t, st.Delete(ctx, "imports/owner-1/leads.csv"))
}

func TestLocalStore_SameContentSameHash(t *testing.T) {
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	h1, err := st.Upload(ctx, "a.csv", strings.NewReader("same bytes"))
	require.NoError(t, err)
	h2, err := st.Upload(ctx, "b.csv", strings.NewReader("same bytes"))
	require.NoError(t, err)
	h3, err := st.Upload(ctx, "c.csv", strings.NewReader("different bytes"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestLocalStore_KeyEscapesRoot(t *testing.T) {
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = st.Upload(context.Background(), "../outside.csv", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = st.Download(context.Background(), "")
	assert.Error(t, err)
}

func TestLocalStore_SignedURL(t *testing.T) {
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.Upload(ctx, "imports/owner-1/leads.csv", strings.NewReader("x"))
	require.NoError(t, err)

	url, err := st.SignedURL(ctx, "imports/owner-1/leads.csv", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"), url)
	assert.True(t, strings.HasSuffix(url, "/imports/owner-1/leads.csv"), url)

	_, err = st.SignedURL(ctx, "imports/owner-1/missing.csv", time.Minute)
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	k1 := ObjectKey("owner-1", "leads.csv")
	k2 := ObjectKey("owner-1", "leads.csv")
	assert.True(t, strings.HasPrefix(k1, "imports/owner-1/"))
	assert.True(t, strings.HasSuffix(k1, "-leads.csv"))
	assert.NotEqual(t, k1, k2)
}
