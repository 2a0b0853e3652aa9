package webhookqueue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a queued delivery.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a status read from the store.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Item is one outbound webhook event and its delivery state.
//
// RetryCount is the number of attempts made so far, incremented when an
// attempt starts. An item may be attempted 1+MaxRetries times in total.
type Item struct {
	ID             uuid.UUID       `json:"id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Endpoint       string          `json:"endpoint"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	Status         Status          `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	LockedBy       *uuid.UUID      `json:"locked_by,omitempty"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Exhausted reports whether the retry budget is spent.
func (i Item) Exhausted() bool {
	return i.RetryCount > i.MaxRetries
}

// Due reports whether a pending item may be claimed at now.
func (i Item) Due(now time.Time) bool {
	return i.Status == StatusPending &&
		i.RetryCount <= i.MaxRetries &&
		(i.NextRetryAt == nil || !i.NextRetryAt.After(now))
}

// EnqueueParams describes an event to deliver.
type EnqueueParams struct {
	EventID   string // generated when empty
	EventType string
	Endpoint  string
	Payload   json.RawMessage
	// MaxRetries overrides the engine default when positive.
	MaxRetries int
	// PriorAttempts counts attempts already made outside the queue.
	PriorAttempts  int
	LastError      string
	LastStatusCode int
}

// Outcome is what a finished attempt writes back.
type Outcome struct {
	Status         Status
	NextRetryAt    *time.Time
	LastError      string
	LastStatusCode int
	At             time.Time
}

// CycleResult summarises one poll cycle.
type CycleResult struct {
	Purged    int `json:"purged"`
	Released  int `json:"released"`
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// Stats counts items per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
}
