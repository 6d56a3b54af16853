package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"medinotify/internal/types"
)

// deliveryLogColumns is the canonical SELECT list for scanDeliveryLog.
const deliveryLogColumns = `id, notification_id, channel, status, provider,
	provider_message_id, error_message, retry_count, attempted_at, delivered_at`

// DeliveryUpdate carries the optional fields written alongside a status change.
// Empty fields leave the stored value untouched.
type DeliveryUpdate struct {
	ProviderMessageID string
	ErrorMessage      string
}

// DeliveryLogRepository provides data access for the delivery_logs table.
// Status changes go through Transition, which only succeeds when the row is
// currently in one of the allowed predecessor states.
type DeliveryLogRepository struct {
	db DBTX
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository.
func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// Create inserts a new attempt row. The ID is generated when empty and the
// status defaults to pending.
func (r *DeliveryLogRepository) Create(ctx context.Context, d *types.DeliveryLog) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = types.DeliveryPending
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO delivery_logs
		 (id, notification_id, channel, status, provider, retry_count, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		 RETURNING attempted_at`,
		d.ID,
		d.NotificationID,
		string(d.Channel),
		string(d.Status),
		string(d.Provider),
		d.RetryCount,
		nilIfZeroTime(d.AttemptedAt),
	).Scan(&d.AttemptedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(types.ErrCodeInvalidTransition,
				"delivery attempt already exists for this retry count", err,
				map[string]any{"notification_id": d.NotificationID, "retry_count": d.RetryCount})
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create delivery log", err)
	}
	return nil
}

// GetByID retrieves a delivery log by its ID.
func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*types.DeliveryLog, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deliveryLogColumns+` FROM delivery_logs WHERE id = $1`, id)
	d, err := scanDeliveryLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundDeliveryLog,
			"delivery log not found", nil, map[string]any{"delivery_log_id": id})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery log", err)
	}
	return d, nil
}

// GetByProviderMessageID finds the attempt a provider receipt refers to.
func (r *DeliveryLogRepository) GetByProviderMessageID(ctx context.Context, channel types.Channel, providerMessageID string) (*types.DeliveryLog, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deliveryLogColumns+` FROM delivery_logs
		 WHERE channel = $1 AND provider_message_id = $2
		 ORDER BY attempted_at DESC LIMIT 1`,
		string(channel), providerMessageID)
	d, err := scanDeliveryLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundDeliveryLog,
			"no delivery log for provider message", nil,
			map[string]any{"channel": string(channel), "provider_message_id": providerMessageID})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery log by provider message", err)
	}
	return d, nil
}

// Transition moves a delivery log to status `to`. The UPDATE is guarded on the
// allowed predecessor states so two writers can never both move the same row.
// delivered_at is set when `to` is delivered and cleared otherwise; entering
// sending stamps attempted_at.
func (r *DeliveryLogRepository) Transition(ctx context.Context, id string, to types.DeliveryStatus, upd DeliveryUpdate) (*types.DeliveryLog, error) {
	from := to.AllowedPredecessors()
	if len(from) == 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInvalidTransition,
			"status cannot be entered by transition", nil, map[string]any{"to": string(to)})
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE delivery_logs SET
			status = $2,
			provider_message_id = COALESCE($3, provider_message_id),
			error_message = COALESCE($4, error_message),
			attempted_at = CASE WHEN $2 = 'sending' THEN NOW() ELSE attempted_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE NULL END
		 WHERE id = $1 AND status = ANY($5)
		 RETURNING `+deliveryLogColumns,
		id,
		string(to),
		nilIfEmpty(upd.ProviderMessageID),
		nilIfEmpty(upd.ErrorMessage),
		allowed,
	)
	d, err := scanDeliveryLog(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update delivery status", err)
	}

	// Distinguish a missing row from a row in the wrong state.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, types.NewAppErrorWithDetails(types.ErrCodeInvalidTransition,
		"delivery log is not in a state that allows this transition", nil,
		map[string]any{"delivery_log_id": id, "from": string(current.Status), "to": string(to)})
}

// ListByNotification returns every attempt for a notification in chain order.
func (r *DeliveryLogRepository) ListByNotification(ctx context.Context, notificationID string) ([]types.DeliveryLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deliveryLogColumns+` FROM delivery_logs
		 WHERE notification_id = $1
		 ORDER BY channel, retry_count`,
		notificationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery logs", err)
	}
	defer rows.Close()

	var results []types.DeliveryLog
	for rows.Next() {
		d, scanErr := scanDeliveryLog(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery log row", scanErr)
		}
		results = append(results, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery log rows", err)
	}
	return results, nil
}

// DeliveryRates reports per channel and provider success rates for attempts
// made at or after since.
func (r *DeliveryLogRepository) DeliveryRates(ctx context.Context, since time.Time) ([]types.DeliveryRate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT channel, provider, COUNT(*),
		        COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')),
		        COUNT(*) FILTER (WHERE status IN ('failed', 'bounced', 'rejected'))
		 FROM delivery_logs
		 WHERE attempted_at >= $1
		 GROUP BY channel, provider
		 ORDER BY channel, provider`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to compute delivery rates", err)
	}
	defer rows.Close()

	var results []types.DeliveryRate
	for rows.Next() {
		var (
			rate              types.DeliveryRate
			channel, provider string
		)
		if err := rows.Scan(&channel, &provider, &rate.Total, &rate.Succeeded, &rate.Failed); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery rate row", err)
		}
		rate.Channel = types.Channel(channel)
		rate.Provider = types.Provider(provider)
		if rate.Total > 0 {
			rate.SuccessRate = float64(rate.Succeeded) / float64(rate.Total)
		}
		results = append(results, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery rate rows", err)
	}
	return results, nil
}

// FailureAnalysis groups unsuccessful attempts by provider, status and error
// message, most frequent first.
func (r *DeliveryLogRepository) FailureAnalysis(ctx context.Context, since time.Time, limit int) ([]types.FailureBucket, error) {
	limit = types.NormalizedLimit(limit)
	rows, err := r.db.Query(ctx,
		`SELECT provider, status, COALESCE(error_message, ''), COUNT(*), MAX(attempted_at)
		 FROM delivery_logs
		 WHERE status IN ('failed', 'bounced', 'rejected') AND attempted_at >= $1
		 GROUP BY provider, status, COALESCE(error_message, '')
		 ORDER BY COUNT(*) DESC, MAX(attempted_at) DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to analyse delivery failures", err)
	}
	defer rows.Close()

	var results []types.FailureBucket
	for rows.Next() {
		var (
			bucket           types.FailureBucket
			provider, status string
		)
		if err := rows.Scan(&provider, &status, &bucket.ErrorMessage, &bucket.Count, &bucket.LastSeen); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan failure row", err)
		}
		bucket.Provider = types.Provider(provider)
		bucket.Status = types.DeliveryStatus(status)
		results = append(results, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating failure rows", err)
	}
	return results, nil
}

// DeleteSucceededBefore removes successful attempts older than cutoff.
// Failed, bounced and rejected rows are kept for diagnosis.
func (r *DeliveryLogRepository) DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_logs
		 WHERE attempted_at < $1 AND status IN ('sent', 'delivered')`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge delivery logs", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeliveryLog(row pgx.Row) (*types.DeliveryLog, error) {
	var (
		d                               types.DeliveryLog
		channel, status, provider       string
		providerMessageID, errorMessage *string
	)
	if err := row.Scan(
		&d.ID,
		&d.NotificationID,
		&channel,
		&status,
		&provider,
		&providerMessageID,
		&errorMessage,
		&d.RetryCount,
		&d.AttemptedAt,
		&d.DeliveredAt,
	); err != nil {
		return nil, err
	}
	d.Channel = types.Channel(channel)
	d.Status = types.DeliveryStatus(status)
	d.Provider = types.Provider(provider)
	d.ProviderMessageID = derefString(providerMessageID)
	d.ErrorMessage = derefString(errorMessage)
	return &d, nil
}
