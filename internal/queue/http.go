package queue

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/resilience"
)

// webhook paths by message kind, relative to the consumer base URL.
var webhookPaths = map[Kind]string{
	KindParse:  "/webhooks/import/parse",
	KindCommit: "/webhooks/import/commit",
}

// HTTPDeliverer posts signed messages to the worker webhook endpoints.
// 2xx acknowledges: the consumer reports terminal failures with 200 too,
// because retrying them cannot help. Transient statuses and network
// errors surface as transient so the queue redelivers.
type HTTPDeliverer struct {
	baseURL string
	secret  string
	client  *http.Client
	retry   resilience.RetryConfig
}

// NewHTTPDeliverer builds a deliverer for the consumer at baseURL,
// signing bodies with secret.
func NewHTTPDeliverer(baseURL, secret string) *HTTPDeliverer {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.RetryLogger("webhook", "deliver")

	return &HTTPDeliverer{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Minute},
		retry:   retry,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, m Message) error {
	path, ok := webhookPaths[m.Kind]
	if !ok {
		return eris.Errorf("queue: no webhook for kind %q", m.Kind)
	}
	body, err := m.Encode()
	if err != nil {
		return err
	}

	return resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.post(ctx, d.baseURL+path, body)
	})
}

func (d *HTTPDeliverer) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "queue: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(d.secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "queue: post webhook"), 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = eris.Errorf("queue: webhook %s returned %d", url, resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}
