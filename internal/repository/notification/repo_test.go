package notification

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

var columnNames = []string{
	"id", "recipient_id", "channel_type", "subject", "content",
	"status", "error_detail", "created_at", "updated_at", "sent_at",
}

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func TestInsert(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	createdAt := time.Now()
	in := model.CreateNotification{
		RecipientID: "user@example.com",
		ChannelType: model.ChannelEmail,
		Subject:     "Welcome",
		Content:     "Hello!",
	}

	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO notifications (
		    id, recipient_id, channel_type, subject, content, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + columns + `;
    `)).
		WithArgs(sqlmock.AnyArg(), in.RecipientID, in.ChannelType, in.Subject, in.Content, model.StatusPending).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			id.String(), in.RecipientID, "email", in.Subject, in.Content, "pending", nil, createdAt, nil, nil,
		))

	n, err := repo.Insert(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, id, n.ID)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.Equal(t, model.ChannelEmail, n.ChannelType)
	assert.Nil(t, n.ErrorDetail)
	assert.Nil(t, n.UpdatedAt)
	assert.Nil(t, n.SentAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_StorageError(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO notifications`)).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.Insert(context.Background(), model.CreateNotification{ChannelType: model.ChannelSMS})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()

	query := regexp.QuoteMeta(`
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `)

	mock.ExpectQuery(query).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			id.String(), "+15550001111", "sms", "", "code 1234", "failed", "bounced", now, now, nil,
		))

	n, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, n.Status)
	require.NotNil(t, n.ErrorDetail)
	assert.Equal(t, "bounced", *n.ErrorDetail)
	require.NotNil(t, n.UpdatedAt)

	mock.ExpectQuery(query).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_FilterAndOrder(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT " + columns + " FROM notifications WHERE recipient_id = $1 AND status = $2" +
			" ORDER BY created_at ASC, id ASC LIMIT $3 OFFSET $4;",
	)).
		WithArgs("user-1", model.StatusPending, 100, 0).
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(uuid.NewString(), "user-1", "push", "a", "b", "pending", nil, time.Now(), nil, nil))

	got, err := repo.List(context.Background(), model.Filter{RecipientID: "user-1", Status: model.StatusPending}, model.Page{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT " + columns + " FROM notifications ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;",
	)).
		WithArgs(100, 20).
		WillReturnRows(sqlmock.NewRows(columnNames))

	got, err = repo.List(context.Background(), model.Filter{}, model.Page{Limit: 500, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalePending(t *testing.T) {
	repo, mock := setupMockDB(t)

	cutoff := time.Now().Add(-30 * time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(staleQuery)).
		WithArgs(model.StatusPending, cutoff, 10).
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(uuid.NewString(), "u", "email", "s", "c", "pending", nil, cutoff.Add(-time.Hour), nil, nil).
			AddRow(uuid.NewString(), "u", "email", "s", "c", "pending", nil, cutoff.Add(-time.Minute), nil, nil))

	got, err := repo.ListStalePending(context.Background(), cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleProcessing(t *testing.T) {
	repo, mock := setupMockDB(t)

	cutoff := time.Now().Add(-30 * time.Minute)
	claimedAt := cutoff.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(staleQuery)).
		WithArgs(model.StatusProcessing, cutoff, 5).
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(uuid.NewString(), "u", "sms", "", "c", "processing", nil, cutoff.Add(-time.Hour), claimedAt, nil))

	got, err := repo.ListStaleProcessing(context.Background(), cutoff, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusProcessing, got[0].Status)

	mock.ExpectQuery(regexp.QuoteMeta(staleQuery)).
		WithArgs(model.StatusProcessing, cutoff, 5).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.ListStaleProcessing(context.Background(), cutoff, 5)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

var transitionQuery = regexp.QuoteMeta(`
		UPDATE notifications
		SET status = $1,
		    error_detail = $2,
		    updated_at = ` + touched + `,
		    sent_at = CASE WHEN $1 = 'sent' THEN NOW() ELSE sent_at END
		WHERE id = $3 AND status = $4
		RETURNING ` + columns + `;
    `)

var existsQuery = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1);`)

func TestTransition_Success(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(transitionQuery).
		WithArgs(model.StatusSent, sql.NullString{}, id, model.StatusProcessing).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			id.String(), "u@example.com", "email", "s", "c", "sent", nil, now, now, now,
		))

	n, err := repo.Transition(context.Background(), id, model.StatusProcessing, model.StatusSent, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)
	assert.Nil(t, n.ErrorDetail)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_FailedStoresDetail(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(transitionQuery).
		WithArgs(model.StatusFailed, sql.NullString{String: "bounced", Valid: true}, id, model.StatusProcessing).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			id.String(), "u@example.com", "email", "s", "c", "failed", "bounced", now, now, nil,
		))

	n, err := repo.Transition(context.Background(), id, model.StatusProcessing, model.StatusFailed, "bounced")
	require.NoError(t, err)
	require.NotNil(t, n.ErrorDetail)
	assert.Equal(t, "bounced", *n.ErrorDetail)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ConflictAndNotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(transitionQuery).
		WithArgs(model.StatusProcessing, sql.NullString{}, id, model.StatusPending).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(existsQuery).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.Transition(context.Background(), id, model.StatusPending, model.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrConflict)

	mock.ExpectQuery(transitionQuery).
		WithArgs(model.StatusProcessing, sql.NullString{}, id, model.StatusPending).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(existsQuery).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = repo.Transition(context.Background(), id, model.StatusPending, model.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_IllegalDoesNotTouchStorage(t *testing.T) {
	repo, mock := setupMockDB(t)

	_, err := repo.Transition(context.Background(), uuid.New(), model.StatusSent, model.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_StorageError(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery(transitionQuery).
		WithArgs(model.StatusProcessing, sql.NullString{}, id, model.StatusPending).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Transition(context.Background(), id, model.StatusPending, model.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetToPending(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()

	query := regexp.QuoteMeta(`
		UPDATE notifications
		SET status = $1, error_detail = NULL, updated_at = ` + touched + `
		WHERE id = $2
		RETURNING ` + columns + `;
    `)

	mock.ExpectQuery(query).
		WithArgs(model.StatusPending, id).
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(
			id.String(), "u", "push", "s", "c", "pending", nil, now, now, nil,
		))

	n, err := repo.ResetToPending(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.Nil(t, n.ErrorDetail)

	mock.ExpectQuery(query).
		WithArgs(model.StatusPending, id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.ResetToPending(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
