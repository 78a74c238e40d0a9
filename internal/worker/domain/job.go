package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Job is the persisted record of one dequeued message
type Job struct {
	ID            string         `db:"id" json:"_id"`
	QueueName     string         `db:"queue_name" json:"queueName"`
	WorkspaceID   string         `db:"workspace_id" json:"workspaceId"`
	Payload       types.JSONText `db:"payload" json:"payload"`
	Attempt       int            `db:"attempt" json:"attempt"`
	MaxRetry      int            `db:"max_retry" json:"maxRetry"`
	Progress      float64        `db:"progress" json:"progress"`
	ProgressLabel *string        `db:"progress_label" json:"progressLabel,omitempty"`
	Log           types.JSONText `db:"log" json:"log"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// Entries decodes the activity log column
func (j *Job) Entries() ([]LogEntry, error) {
	var entries []LogEntry
	if len(j.Log) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(j.Log, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LogEntry is one append-only line of a job's activity log
type LogEntry struct {
	Message   string    `json:"message"`
	Type      Severity  `json:"type"`
	TimeInUTC time.Time `json:"timeInUtc"`
	OnAttempt int       `json:"onAttempt"`
}

// Message is the broker message body published by producers
type Message struct {
	ID          string          `json:"_id,omitempty"`
	QueueName   string          `json:"queueName,omitempty"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxRetry    int             `json:"maxRetry,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
}

// UnmarshalJSON decodes the envelope leniently. Only a body that is not a JSON
// object fails; envelope fields of an unexpected type fall back to their zero
// value. A numeric _id is kept as its literal text, and maxRetry accepts an
// integral number or numeric string; anything else means no retries.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"_id"`
		QueueName   json.RawMessage `json:"queueName"`
		WorkspaceID json.RawMessage `json:"workspaceId"`
		Payload     json.RawMessage `json:"payload"`
		MaxRetry    json.RawMessage `json:"maxRetry"`
		CreatedAt   json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{
		ID:          identifier(raw.ID),
		QueueName:   text(raw.QueueName),
		WorkspaceID: text(raw.WorkspaceID),
		Payload:     raw.Payload,
		MaxRetry:    retryCount(raw.MaxRetry),
	}

	var createdAt time.Time
	if len(raw.CreatedAt) > 0 && json.Unmarshal(raw.CreatedAt, &createdAt) == nil && !createdAt.IsZero() {
		m.CreatedAt = &createdAt
	}

	return nil
}

func text(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func identifier(raw json.RawMessage) string {
	if s := text(raw); s != "" {
		return s
	}

	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return ""
	}
	return n.String()
}

func retryCount(raw json.RawMessage) int {
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		// json.Number also accepts a string holding a valid number
		return 0
	}

	if v, err := n.Int64(); err == nil {
		return boundedRetry(float64(v))
	}

	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0
	}
	return boundedRetry(f)
}

func boundedRetry(v float64) int {
	if v < 0 || v > math.MaxInt32 {
		return 0
	}
	return int(v)
}

// ErroredJob archives a message body that could not be parsed
type ErroredJob struct {
	ID        int64     `db:"id" json:"id"`
	Payload   string    `db:"payload" json:"payload"`
	Error     string    `db:"error" json:"error"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
