package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"medinotify/internal/types"
)

const (
	recentWindow        = 24 * time.Hour
	defaultStatsWindow  = 7 * 24 * time.Hour
	defaultFailureLimit = 10
	maxFailureLimit     = 100
)

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Notifications.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, r, err)
		return
	}
	if !includes(r, "deliveries") || s.deps.Deliveries == nil {
		JSON(w, r, http.StatusOK, APIResponse{Data: n})
		return
	}

	logs, err := s.deps.Deliveries.ListByNotification(r.Context(), n.ID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if logs == nil {
		logs = []types.DeliveryLog{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: types.NotificationWithDeliveries{Notification: *n, Deliveries: logs}})
}

func (s *Server) handleListByRecipient(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		Error(w, r, err)
		return
	}
	s.list(w, r, types.NotificationFilter{
		RecipientID: chi.URLParam(r, "id"),
		Limit:       limit,
		Cursor:      r.URL.Query().Get("cursor"),
	})
}

func (s *Server) handleRecentByRecipient(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, types.NotificationFilter{
		RecipientID: chi.URLParam(r, "id"),
		Since:       s.clock.Now().Add(-recentWindow),
		Limit:       types.MaxPageLimit,
	})
}

func (s *Server) handleListByReference(w http.ResponseWriter, r *http.Request) {
	refType := types.ReferenceType(chi.URLParam(r, "type"))
	if !refType.Valid() {
		Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEnum,
			"unknown reference type", nil, map[string]any{"reference_type": string(refType)}))
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		Error(w, r, err)
		return
	}
	s.list(w, r, types.NotificationFilter{
		ReferenceType: refType,
		ReferenceID:   chi.URLParam(r, "id"),
		Limit:         limit,
		Cursor:        r.URL.Query().Get("cursor"),
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, filter types.NotificationFilter) {
	items, page, err := s.deps.Notifications.List(r.Context(), filter)
	if err != nil {
		Error(w, r, err)
		return
	}
	if items == nil {
		items = []types.Notification{}
	}
	JSON(w, r, http.StatusOK, types.ListResponse[types.Notification]{Data: items, PageInfo: page})
}

func (s *Server) handleCountByRecipient(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", time.Time{})
	if err != nil {
		Error(w, r, err)
		return
	}
	recipientID := chi.URLParam(r, "id")
	count, err := s.deps.Notifications.CountByRecipient(r.Context(), recipientID, since)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"recipient_id": recipientID,
		"count":        count,
	}})
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", s.clock.Now().Add(-defaultStatsWindow))
	if err != nil {
		Error(w, r, err)
		return
	}
	stats, err := s.deps.Notifications.Stats(r.Context(), since)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: stats})
}

func (s *Server) handleDeliveryRates(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", s.clock.Now().Add(-defaultStatsWindow))
	if err != nil {
		Error(w, r, err)
		return
	}
	rates, err := s.deps.Deliveries.DeliveryRates(r.Context(), since)
	if err != nil {
		Error(w, r, err)
		return
	}
	if rates == nil {
		rates = []types.DeliveryRate{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: rates})
}

func (s *Server) handleFailureAnalysis(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", s.clock.Now().Add(-defaultStatsWindow))
	if err != nil {
		Error(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", defaultFailureLimit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if limit > maxFailureLimit {
		limit = maxFailureLimit
	}
	buckets, err := s.deps.Deliveries.FailureAnalysis(r.Context(), since, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if buckets == nil {
		buckets = []types.FailureBucket{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: buckets})
}

// includes reports whether the comma-separated include parameter names part.
func includes(r *http.Request, part string) bool {
	for _, v := range strings.Split(r.URL.Query().Get("include"), ",") {
		if strings.TrimSpace(v) == part {
			return true
		}
	}
	return false
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationFailed,
			"query parameter must be a non-negative integer", err, map[string]any{"parameter": name})
	}
	return v, nil
}

// timeParam parses an RFC3339 timestamp or a Go duration measured back from
// now ("24h").
func timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().UTC().Add(-d), nil
	}
	return time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationFailed,
		"query parameter must be an RFC3339 timestamp or a duration", nil, map[string]any{"parameter": name})
}
