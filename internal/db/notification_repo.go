package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"medinotify/internal/types"
)

// notificationColumns is the canonical SELECT list for scanNotification.
const notificationColumns = `id, recipient_id, recipient_type, type, reference_type,
	reference_id, title, body, dedup_key, created_at`

// NotificationRepository provides data access for the notifications table.
// Notifications are insert-only; the only delete path is retention cleanup.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification. When the notification carries a dedup key
// that already exists, nothing is inserted, n is overwritten with the stored
// row and created is false.
func (r *NotificationRepository) Create(ctx context.Context, n *types.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO notifications
		 (id, recipient_id, recipient_type, type, reference_type, reference_id,
		  title, body, dedup_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		 ON CONFLICT (dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
		 RETURNING created_at`,
		n.ID,
		n.RecipientID,
		string(n.RecipientType),
		string(n.Type),
		string(n.ReferenceType),
		nilIfEmpty(n.ReferenceID),
		n.Title,
		n.Body,
		nilIfEmpty(n.DedupKey),
		nilIfZeroTime(n.CreatedAt),
	)
	err := row.Scan(&n.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || n.DedupKey == "" {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create notification", err)
	}

	existing, err := r.GetByDedupKey(ctx, n.DedupKey)
	if err != nil {
		return false, err
	}
	*n = *existing
	return false, nil
}

// GetByID retrieves a notification by its ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*types.Notification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundNotification,
			"notification not found", nil, map[string]any{"notification_id": id})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification", err)
	}
	return n, nil
}

// GetByDedupKey retrieves the notification created for a dedup key.
func (r *NotificationRepository) GetByDedupKey(ctx context.Context, key string) (*types.Notification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE dedup_key = $1`, key)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found for dedup key", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification by dedup key", err)
	}
	return n, nil
}

// List retrieves notifications matching the filter, newest first. Pagination
// is cursor-based on created_at; the cursor is an RFC3339Nano timestamp.
func (r *NotificationRepository) List(ctx context.Context, filter types.NotificationFilter) ([]types.Notification, types.PageInfo, error) {
	limit := types.NormalizedLimit(filter.Limit)

	var conditions []string
	var args []any
	argIdx := 1

	if filter.RecipientID != "" {
		conditions = append(conditions, fmt.Sprintf("recipient_id = $%d", argIdx))
		args = append(args, filter.RecipientID)
		argIdx++
	}
	if filter.ReferenceType != "" {
		conditions = append(conditions, fmt.Sprintf("reference_type = $%d", argIdx))
		args = append(args, string(filter.ReferenceType))
		argIdx++
	}
	if filter.ReferenceID != "" {
		conditions = append(conditions, fmt.Sprintf("reference_id = $%d", argIdx))
		args = append(args, filter.ReferenceID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, filter.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationFailed,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Fetch limit+1 rows to detect HasMore.
	query := fmt.Sprintf(
		`SELECT %s FROM notifications %s ORDER BY created_at DESC, id LIMIT $%d`,
		notificationColumns, whereClause, argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	results := make([]types.Notification, 0, limit)
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", scanErr)
		}
		results = append(results, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, pageInfo, nil
}

// CountByRecipient counts a recipient's notifications created at or after since.
// A zero since counts all of them.
func (r *NotificationRepository) CountByRecipient(ctx context.Context, recipientID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE recipient_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)`,
		recipientID, nilIfZeroTime(since),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count notifications", err)
	}
	return count, nil
}

// Stats aggregates notifications created at or after since by kind,
// recipient type and reference type in a single GROUPING SETS query.
func (r *NotificationRepository) Stats(ctx context.Context, since time.Time) (*types.NotificationStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT type, recipient_type, reference_type, COUNT(*)
		 FROM notifications
		 WHERE created_at >= $1
		 GROUP BY GROUPING SETS ((type), (recipient_type), (reference_type))`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate notifications", err)
	}
	defer rows.Close()

	stats := &types.NotificationStats{
		Since:           since,
		ByType:          make(map[types.NotificationType]int64),
		ByRecipientType: make(map[types.RecipientType]int64),
		ByReferenceType: make(map[types.ReferenceType]int64),
	}
	for rows.Next() {
		var kind, recipientType, referenceType *string
		var count int64
		if err := rows.Scan(&kind, &recipientType, &referenceType, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stats row", err)
		}
		switch {
		case kind != nil:
			stats.ByType[types.NotificationType(*kind)] = count
			stats.Total += count
		case recipientType != nil:
			stats.ByRecipientType[types.RecipientType(*recipientType)] = count
		case referenceType != nil:
			stats.ByReferenceType[types.ReferenceType(*referenceType)] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating stats rows", err)
	}
	return stats, nil
}

// DeleteBefore removes notifications created before cutoff and returns the
// number of rows deleted.
func (r *NotificationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge notifications", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*types.Notification, error) {
	var (
		n                                  types.Notification
		recipientType, kind, referenceType string
		referenceID, dedupKey              *string
	)
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&recipientType,
		&kind,
		&referenceType,
		&referenceID,
		&n.Title,
		&n.Body,
		&dedupKey,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.RecipientType = types.RecipientType(recipientType)
	n.Type = types.NotificationType(kind)
	n.ReferenceType = types.ReferenceType(referenceType)
	n.ReferenceID = derefString(referenceID)
	n.DedupKey = derefString(dedupKey)
	return &n, nil
}
