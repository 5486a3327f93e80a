// Package blob stores uploaded import files. Production uses S3; the
// local runner and tests use a plain directory.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
)

// Store reads and writes uploaded import files by opaque key.
type Store interface {
	// Upload writes the file and returns its hex-encoded SHA-256 content
	// hash. The hash identifies duplicate submissions before a job is
	// created.
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// SignedURL returns a short-lived reference to the stored file for
	// handing to the owning application without proxying the bytes.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HashBytes returns the hex-encoded SHA-256 of data, the same digest
// Upload computes while streaming.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey builds a collision-resistant storage key for an uploaded
// file: imports/<owner>/<unix-nanos>-<name>. The timestamp keeps repeat
// uploads of the same file name from overwriting each other.
func ObjectKey(ownerID, fileName string) string {
	return fmt.Sprintf("imports/%s/%d-%s", ownerID, time.Now().UnixNano(), fileName)
}

// hashingReader computes a SHA-256 digest of everything read through it.
type hashingReader struct {
	r io.Reader
	h io.Writer
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n]) //nolint:errcheck
	}
	return n, err
}

func uploadWithHash(r io.Reader, upload func(io.Reader) error) (string, error) {
	h := sha256.New()
	if err := upload(&hashingReader{r: r, h: h}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var errKeyRequired = eris.New("blob: key is required")
