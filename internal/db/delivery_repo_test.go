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

func deliveryRow(id string, status types.DeliveryStatus, retryCount int, deliveredAt *time.Time) *mockRow {
	return rowOf(id, "n-1", "email", string(status), "ses", nil, nil, retryCount, time.Now().UTC(), deliveredAt)
}

func TestDeliveryLogRepository_Create_DefaultsToPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)
	now := time.Now().UTC()

	db.On("QueryRow", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		return args[3] == "pending" && args[5] == 0
	})).Return(rowOf(now))

	d := &types.DeliveryLog{NotificationID: "n-1", Channel: types.ChannelEmail, Provider: types.ProviderSES}
	require.NoError(t, repo.Create(context.Background(), d))
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, types.DeliveryPending, d.Status)
	assert.Equal(t, now, d.AttemptedAt)
	db.AssertExpectations(t)
}

func TestDeliveryLogRepository_Create_DuplicateRetryCount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(errRow(&pgconn.PgError{Code: "23505"}))

	err := repo.Create(context.Background(), &types.DeliveryLog{NotificationID: "n-1", RetryCount: 1})
	assert.Equal(t, types.ErrCodeInvalidTransition, types.CodeOf(err))
}

func TestDeliveryLogRepository_Transition_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		allowed, ok := args[4].([]string)
		return ok && args[1] == "sending" && len(allowed) == 1 && allowed[0] == "pending"
	})).Return(deliveryRow("d-1", types.DeliverySending, 0, nil))

	d, err := repo.Transition(context.Background(), "d-1", types.DeliverySending, DeliveryUpdate{})
	require.NoError(t, err)
	assert.Equal(t, types.DeliverySending, d.Status)
	assert.Nil(t, d.DeliveredAt)
	db.AssertExpectations(t)
}

func TestDeliveryLogRepository_Transition_PassesProviderFields(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)
	deliveredAt := time.Now().UTC()

	db.On("QueryRow", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		msgID, ok := args[2].(*string)
		errMsg, _ := args[3].(*string)
		return ok && msgID != nil && *msgID == "ses-123" && errMsg == nil
	})).Return(deliveryRow("d-1", types.DeliveryDelivered, 0, &deliveredAt))

	d, err := repo.Transition(context.Background(), "d-1", types.DeliveryDelivered,
		DeliveryUpdate{ProviderMessageID: "ses-123"})
	require.NoError(t, err)
	require.NotNil(t, d.DeliveredAt)
	assert.Equal(t, deliveredAt, *d.DeliveredAt)
}

func TestDeliveryLogRepository_Transition_WrongState(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows)).Once()
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"d-1"}).
		Return(deliveryRow("d-1", types.DeliveryFailed, 0, nil)).Once()

	_, err := repo.Transition(context.Background(), "d-1", types.DeliverySent, DeliveryUpdate{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInvalidTransition, appErr.Code)
	assert.Equal(t, "failed", appErr.Details["from"])
	assert.Equal(t, "sent", appErr.Details["to"])
}

func TestDeliveryLogRepository_Transition_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := repo.Transition(context.Background(), "ghost", types.DeliverySending, DeliveryUpdate{})
	assert.Equal(t, types.ErrCodeNotFoundDeliveryLog, types.CodeOf(err))
}

func TestDeliveryLogRepository_Transition_ToPendingRejected(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	_, err := repo.Transition(context.Background(), "d-1", types.DeliveryPending, DeliveryUpdate{})
	assert.Equal(t, types.ErrCodeInvalidTransition, types.CodeOf(err))
	db.AssertNotCalled(t, "QueryRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliveryLogRepository_ListByNotification(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)
	at := time.Now().UTC()

	rows := newMockRows(
		[]any{"d-1", "n-1", "email", "failed", "ses", nil, strPtr("timeout"), 0, at, nil},
		[]any{"d-2", "n-1", "email", "sent", "ses", strPtr("ses-9"), nil, 1, at, nil},
	)
	db.On("Query", mock.Anything, mock.Anything, []any{"n-1"}).Return(rows, nil)

	logs, err := repo.ListByNotification(context.Background(), "n-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "timeout", logs[0].ErrorMessage)
	assert.Equal(t, 1, logs[1].RetryCount)
	assert.Equal(t, "ses-9", logs[1].ProviderMessageID)
}

func TestDeliveryLogRepository_DeliveryRates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	rows := newMockRows(
		[]any{"email", "ses", int64(10), int64(8), int64(2)},
		[]any{"sms", "sns", int64(0), int64(0), int64(0)},
	)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	rates, err := repo.DeliveryRates(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.InDelta(t, 0.8, rates[0].SuccessRate, 1e-9)
	assert.Equal(t, types.ChannelSMS, rates[1].Channel)
	assert.Zero(t, rates[1].SuccessRate)
}

func TestDeliveryLogRepository_FailureAnalysis(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)
	last := time.Now().UTC()

	rows := newMockRows([]any{"sns", "rejected", "invalid phone number", int64(3), last})
	db.On("Query", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		return args[1] == types.DefaultPageLimit
	})).Return(rows, nil)

	buckets, err := repo.FailureAnalysis(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, types.DeliveryRejected, buckets[0].Status)
	assert.Equal(t, int64(3), buckets[0].Count)
}

func TestDeliveryLogRepository_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := repo.DeliveryRates(context.Background(), time.Now())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestDeliveryLogRepository_DeleteSucceededBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "'sent'", "'delivered'")
	}), mock.Anything).Return(pgconn.NewCommandTag("DELETE 12"), nil)

	n, err := repo.DeleteSucceededBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestDeliveryLogRepository_GetByProviderMessageID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryLogRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{"email", "ses-1"}).
		Return(deliveryRow("d-1", types.DeliverySent, 0, nil)).Once()
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"email", "ses-missing"}).
		Return(errRow(pgx.ErrNoRows)).Once()

	d, err := repo.GetByProviderMessageID(context.Background(), types.ChannelEmail, "ses-1")
	require.NoError(t, err)
	assert.Equal(t, "d-1", d.ID)

	_, err = repo.GetByProviderMessageID(context.Background(), types.ChannelEmail, "ses-missing")
	assert.Equal(t, types.ErrCodeNotFoundDeliveryLog, types.CodeOf(err))
	db.AssertExpectations(t)
}
