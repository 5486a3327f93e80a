// Package queue carries the trigger messages that drive the import
// pipeline. Messages are published to a Redis list and delivered
// at-least-once to the signed webhook endpoints; consumers are
// idempotent, so redelivery is safe.
package queue

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/model"
)

// Kind selects which webhook a message triggers.
type Kind string

const (
	KindParse  Kind = "parse"
	KindCommit Kind = "commit"
)

// Message is one pipeline trigger. Attempt counts deliveries so a
// message that keeps failing is eventually dropped instead of looping
// forever.
type Message struct {
	Kind  Kind   `json:"kind"`
	JobID string `json:"job_id"`

	// StartChunk lets a parse invocation that ran out of budget hand the
	// remainder to a fresh invocation. Zero means start from the
	// checkpoint (or the beginning).
	StartChunk int `json:"start_chunk,omitempty"`

	// Commit messages may carry the effective configuration; the worker
	// falls back to the job record when absent.
	Assignment *model.AssignmentConfig `json:"assignment,omitempty"`
	Duplicate  *model.DuplicateConfig  `json:"duplicate,omitempty"`
	Defaults   *model.RowDefaults      `json:"defaults,omitempty"`

	Attempt int `json:"attempt,omitempty"`
}

// NewParseMessage builds the trigger for a parse invocation.
func NewParseMessage(jobID string) Message {
	return Message{Kind: KindParse, JobID: jobID}
}

// NewCommitMessage builds the trigger for a commit invocation.
func NewCommitMessage(jobID string) Message {
	return Message{Kind: KindCommit, JobID: jobID}
}

// Encode serializes a message for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	return data, eris.Wrap(err, "queue: encode message")
}

// DecodeMessage parses a wire message and validates its fields.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, eris.Wrap(err, "queue: decode message")
	}
	if m.JobID == "" {
		return Message{}, eris.New("queue: message missing job_id")
	}
	switch m.Kind {
	case KindParse, KindCommit:
	default:
		return Message{}, eris.Errorf("queue: unknown message kind %q", m.Kind)
	}
	return m, nil
}

// Publisher enqueues pipeline triggers.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}
