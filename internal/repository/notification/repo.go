package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrConflict             = errors.New("notification status conflict")
	ErrStorageUnavailable   = errors.New("notification storage unavailable")
)

const columns = `id, recipient_id, channel_type, subject, content, status, error_detail, created_at, updated_at, sent_at`

// touched is the new updated_at of a mutated row. It strictly increases per
// row even when NOW() does not, so (id, updated_at) identifies a revision.
const touched = `GREATEST(NOW(), COALESCE(updated_at, created_at) + INTERVAL '1 microsecond')`

// Repository provides methods to interact with notifications table.
//
// Single-row reads and all writes go to the master; listings may be served
// by a replica.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (model.Notification, error) {
	var (
		n           model.Notification
		errorDetail sql.NullString
		updatedAt   sql.NullTime
		sentAt      sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.RecipientID, &n.ChannelType, &n.Subject, &n.Content,
		&n.Status, &errorDetail, &n.CreatedAt, &updatedAt, &sentAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if errorDetail.Valid {
		n.ErrorDetail = &errorDetail.String
	}
	if updatedAt.Valid {
		n.UpdatedAt = &updatedAt.Time
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}

	return n, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Insert creates a pending notification and returns the stored row.
func (r *Repository) Insert(ctx context.Context, in model.CreateNotification) (model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    id, recipient_id, channel_type, subject, content, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + columns + `;
    `

	row := r.db.Master.QueryRowContext(
		ctx, query, uuid.New(), in.RecipientID, in.ChannelType, in.Subject, in.Content, model.StatusPending,
	)

	n, err := scanNotification(row)
	if err != nil {
		return model.Notification{}, unavailable("insert notification", err)
	}

	return n, nil
}

// Get retrieves a notification by its ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, unavailable("get notification", err)
	}

	return n, nil
}

// List returns notifications matching the filter. Pending listings are
// ordered oldest first, everything else newest first.
func (r *Repository) List(ctx context.Context, filter model.Filter, page model.Page) ([]model.Notification, error) {
	page = page.Normalize()

	var (
		where []string
		args  []any
	)

	if filter.RecipientID != "" {
		args = append(args, filter.RecipientID)
		where = append(where, fmt.Sprintf("recipient_id = $%d", len(args)))
	}
	if filter.ChannelType != "" {
		args = append(args, filter.ChannelType)
		where = append(where, fmt.Sprintf("channel_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	order := "DESC"
	if filter.Status == model.StatusPending {
		order = "ASC"
	}

	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM notifications")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	args = append(args, page.Limit, page.Offset)
	fmt.Fprintf(&b, " ORDER BY created_at %s, id %s LIMIT $%d OFFSET $%d;", order, order, len(args)-1, len(args))

	return r.query(ctx, "list notifications", b.String(), args...)
}

// ListStalePending returns pending notifications whose last change is not
// newer than olderThan, oldest first.
func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error) {
	return r.query(ctx, "list stale pending notifications", staleQuery, model.StatusPending, olderThan, limit)
}

// ListStaleProcessing returns notifications claimed by a worker whose last
// change is not newer than olderThan, oldest first.
func (r *Repository) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error) {
	return r.query(ctx, "list stale processing notifications", staleQuery, model.StatusProcessing, olderThan, limit)
}

const staleQuery = `
		SELECT ` + columns + `
		FROM notifications
		WHERE status = $1 AND COALESCE(updated_at, created_at) <= $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3;
    `

func (r *Repository) query(ctx context.Context, op, query string, args ...any) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	notifications := make([]model.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}

	return notifications, nil
}

// Transition moves the status from expected to next only if the stored
// status still equals expected. On a lost race it returns ErrConflict and
// leaves the row untouched.
func (r *Repository) Transition(
	ctx context.Context, id uuid.UUID, expected, next model.Status, errorDetail string,
) (model.Notification, error) {
	if !model.CanTransition(expected, next) {
		return model.Notification{}, fmt.Errorf("%w: %s -> %s is not allowed", ErrConflict, expected, next)
	}

	var detail sql.NullString
	if next == model.StatusFailed {
		detail = sql.NullString{String: errorDetail, Valid: true}
	}

	query := `
		UPDATE notifications
		SET status = $1,
		    error_detail = $2,
		    updated_at = ` + touched + `,
		    sent_at = CASE WHEN $1 = 'sent' THEN NOW() ELSE sent_at END
		WHERE id = $3 AND status = $4
		RETURNING ` + columns + `;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, next, detail, id, expected))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, unavailable("transition notification", err)
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}
	if !exists {
		return model.Notification{}, ErrNotificationNotFound
	}

	return model.Notification{}, fmt.Errorf("%w: expected %s", ErrConflict, expected)
}

func (r *Repository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1);`

	var exists bool
	if err := r.db.Master.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, unavailable("check notification", err)
	}

	return exists, nil
}

// ResetToPending unconditionally sets the status back to pending and clears
// the error detail. It backs the resend operation.
func (r *Repository) ResetToPending(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, error_detail = NULL, updated_at = ` + touched + `
		WHERE id = $2
		RETURNING ` + columns + `;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, model.StatusPending, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, unavailable("reset notification", err)
	}

	return n, nil
}
