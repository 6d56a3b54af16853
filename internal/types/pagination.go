package types

import "time"

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// NotificationFilter selects notifications for listing queries.
type NotificationFilter struct {
	RecipientID   string
	ReferenceType ReferenceType
	ReferenceID   string
	Since         time.Time
	Limit         int
	Cursor        string
}

// DefaultPageLimit and MaxPageLimit bound list queries.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizedLimit clamps a requested page size into [1, MaxPageLimit].
func NormalizedLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
