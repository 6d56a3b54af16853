package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medinotify/internal/types"
)

func notificationRow(id string, createdAt time.Time) *mockRow {
	ref := "appt-1"
	return rowOf(id, "patient-1", "patient", "appointment_confirmed", "appointment",
		&ref, "Appointment confirmed", "See you soon", nil, createdAt)
}

func TestNotificationRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	now := time.Now().UTC()

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(rowOf(now)).Once()

	n := &types.Notification{
		RecipientID:   "patient-1",
		RecipientType: types.RecipientPatient,
		Type:          types.NotificationAppointmentConfirmed,
		ReferenceType: types.ReferenceAppointment,
		Title:         "Appointment confirmed",
		Body:          "See you soon",
	}

	created, err := repo.Create(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, now, n.CreatedAt)
	db.AssertExpectations(t)
}

func TestNotificationRepository_Create_DedupHitReturnsExisting(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"appointment.confirmed:corr-1:patient-1"}).
		Return(notificationRow("existing-id", created)).Once()

	n := &types.Notification{
		ID:          "fresh-id",
		RecipientID: "patient-1",
		Title:       "t",
		Body:        "b",
		DedupKey:    "appointment.confirmed:corr-1:patient-1",
	}
	wasCreated, err := repo.Create(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "existing-id", n.ID)
	assert.Equal(t, created, n.CreatedAt)
	db.AssertExpectations(t)
}

func TestNotificationRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(errRow(errors.New("connection refused")))

	_, err := repo.Create(context.Background(), &types.Notification{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestNotificationRepository_Create_NoRowsWithoutDedupKeyIsAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := repo.Create(context.Background(), &types.Notification{Title: "t", Body: "b"})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestNotificationRepository_GetByID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	now := time.Now().UTC()

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"n-1"}).Return(notificationRow("n-1", now))
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"missing"}).Return(errRow(pgx.ErrNoRows))

	n, err := repo.GetByID(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, types.RecipientPatient, n.RecipientType)
	assert.Equal(t, types.NotificationAppointmentConfirmed, n.Type)
	assert.Equal(t, "appt-1", n.ReferenceID)
	assert.Empty(t, n.DedupKey)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundNotification))
}

func TestNotificationRepository_List_Paginates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	row := func(id string, at time.Time) []any {
		return []any{id, "patient-1", "patient", "payment_success", "payment", nil, "Paid", "Thanks", nil, at}
	}
	rows := newMockRows(row("n-3", t0), row("n-2", t0.Add(-time.Minute)), row("n-1", t0.Add(-2*time.Minute)))

	db.On("Query", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		// recipient filter plus limit+1
		return len(args) == 2 && args[0] == "patient-1" && args[1] == 3
	})).Return(rows, nil)

	items, page, err := repo.List(context.Background(), types.NotificationFilter{RecipientID: "patient-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, t0.Add(-time.Minute).Format(time.RFC3339Nano), page.NextCursor)
	assert.True(t, rows.closed)
}

func TestNotificationRepository_List_InvalidCursor(t *testing.T) {
	repo := NewNotificationRepository(new(mockDBTX))

	_, _, err := repo.List(context.Background(), types.NotificationFilter{Cursor: "yesterday"})
	assert.Equal(t, types.ErrCodeValidationFailed, types.CodeOf(err))
}

func TestNotificationRepository_Stats(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	str := func(s string) *string { return &s }
	rows := newMockRows(
		[]any{str("payment_failed"), nil, nil, int64(4)},
		[]any{str("appointment_confirmed"), nil, nil, int64(6)},
		[]any{nil, str("patient"), nil, int64(9)},
		[]any{nil, str("doctor"), nil, int64(1)},
		[]any{nil, nil, str("payment"), int64(4)},
	)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	stats, err := repo.Stats(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(4), stats.ByType[types.NotificationPaymentFailed])
	assert.Equal(t, int64(9), stats.ByRecipientType[types.RecipientPatient])
	assert.Equal(t, int64(4), stats.ByReferenceType[types.ReferencePayment])
}

func TestNotificationRepository_DeleteBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewNotificationRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 7"), nil).Once()
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout")).Once()

	n, err := repo.DeleteBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = repo.DeleteBefore(context.Background(), time.Now())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
