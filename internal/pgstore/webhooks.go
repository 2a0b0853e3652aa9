package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/estatecrm/pkg/pg"
	"github.com/dmitrymomot/estatecrm/svc/webhookqueue"
)

// WebhookStore implements webhookqueue.Store. Claims use
// FOR UPDATE SKIP LOCKED so concurrent pollers never pick the same row.
type WebhookStore struct {
	db DB
}

var _ webhookqueue.Store = (*WebhookStore)(nil)

func NewWebhookStore(db DB) *WebhookStore {
	return &WebhookStore{db: db}
}

const webhookColumns = `id, event_id, event_type, payload, endpoint, retry_count, max_retries, next_retry_at, status,
	last_error, last_status_code, locked_by, locked_until, created_at, updated_at`

func scanWebhook(row pgx.CollectableRow) (webhookqueue.Item, error) {
	var (
		it     webhookqueue.Item
		status string
	)
	err := row.Scan(&it.ID, &it.EventID, &it.EventType, &it.Payload, &it.Endpoint, &it.RetryCount, &it.MaxRetries,
		&it.NextRetryAt, &status, &it.LastError, &it.LastStatusCode, &it.LockedBy, &it.LockedUntil,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return it, err
	}
	if it.Status, err = webhookqueue.ParseStatus(status); err != nil {
		return it, fmt.Errorf("webhook %s: %w", it.ID, err)
	}
	return it, nil
}

func (s *WebhookStore) Insert(ctx context.Context, it *webhookqueue.Item) error {
	_, err := s.db.Exec(ctx, `INSERT INTO webhook_queue (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		it.ID, it.EventID, it.EventType, []byte(it.Payload), it.Endpoint, it.RetryCount, it.MaxRetries,
		it.NextRetryAt, string(it.Status), it.LastError, it.LastStatusCode, it.LockedBy, it.LockedUntil,
		it.CreatedAt, it.UpdatedAt)
	return mapUnique(err, constraintWebhookEventID, webhookqueue.ErrDuplicateEvent)
}

func (s *WebhookStore) Get(ctx context.Context, id uuid.UUID) (*webhookqueue.Item, error) {
	rows, err := s.db.Query(ctx, `SELECT `+webhookColumns+` FROM webhook_queue WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	it, err := pgx.CollectExactlyOneRow(rows, scanWebhook)
	if pg.IsNotFoundError(err) {
		return nil, webhookqueue.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *WebhookStore) ClaimDue(ctx context.Context, owner uuid.UUID, now time.Time, lease time.Duration, limit int) ([]webhookqueue.Item, error) {
	rows, err := s.db.Query(ctx, `UPDATE webhook_queue q SET
			status = 'processing',
			retry_count = q.retry_count + 1,
			locked_by = $1,
			locked_until = $2,
			updated_at = $3
		FROM (
			SELECT id FROM webhook_queue
			WHERE status = 'pending'
			  AND retry_count <= max_retries
			  AND (next_retry_at IS NULL OR next_retry_at <= $3)
			ORDER BY next_retry_at NULLS FIRST, created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING q.id, q.event_id, q.event_type, q.payload, q.endpoint, q.retry_count, q.max_retries,
			q.next_retry_at, q.status, q.last_error, q.last_status_code, q.locked_by, q.locked_until,
			q.created_at, q.updated_at`,
		owner, now.Add(lease), now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanWebhook)
}

// exists tells ErrItemNotFound apart from a failed conditional update.
func (s *WebhookStore) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_queue WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *WebhookStore) Finish(ctx context.Context, id, owner uuid.UUID, o webhookqueue.Outcome) error {
	tag, err := s.db.Exec(ctx, `UPDATE webhook_queue SET
			status = $3, next_retry_at = $4, last_error = $5, last_status_code = $6,
			locked_by = NULL, locked_until = NULL, updated_at = $7
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		id, owner, string(o.Status), o.NextRetryAt, o.LastError, o.LastStatusCode, o.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	ok, err := s.exists(ctx, id)
	switch {
	case err != nil:
		return err
	case !ok:
		return webhookqueue.ErrItemNotFound
	default:
		return webhookqueue.ErrLeaseLost
	}
}

func (s *WebhookStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE webhook_queue SET
			status = CASE WHEN retry_count > max_retries THEN 'failed' ELSE 'pending' END,
			next_retry_at = CASE WHEN retry_count > max_retries THEN NULL ELSE $1::timestamptz END,
			locked_by = NULL,
			locked_until = NULL,
			updated_at = $1
		WHERE status = 'processing' AND locked_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *WebhookStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE webhook_queue SET
			status = 'pending', retry_count = 0, next_retry_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'failed'`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	ok, err := s.exists(ctx, id)
	switch {
	case err != nil:
		return err
	case !ok:
		return webhookqueue.ErrItemNotFound
	default:
		return webhookqueue.ErrNotRequeueable
	}
}

func (s *WebhookStore) PurgeSucceeded(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhook_queue WHERE status = 'success' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *WebhookStore) Stats(ctx context.Context) (webhookqueue.Stats, error) {
	var st webhookqueue.Stats
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM webhook_queue GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch webhookqueue.Status(status) {
		case webhookqueue.StatusPending:
			st.Pending = n
		case webhookqueue.StatusProcessing:
			st.Processing = n
		case webhookqueue.StatusSuccess:
			st.Success = n
		case webhookqueue.StatusFailed:
			st.Failed = n
		default:
			return st, fmt.Errorf("%w: %q", webhookqueue.ErrUnknownStatus, status)
		}
	}
	return st, rows.Err()
}
