// Package api provides the operator HTTP surface of the notification
// service: health and metrics endpoints, the read and reporting API, and the
// SES feedback webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medinotify/internal/notifications/email"
	"medinotify/internal/types"
)

// defaultRequestTimeout bounds every request context.
const defaultRequestTimeout = 15 * time.Second

// NotificationReader is the read side of the notification repository.
type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*types.Notification, error)
	List(ctx context.Context, filter types.NotificationFilter) ([]types.Notification, types.PageInfo, error)
	CountByRecipient(ctx context.Context, recipientID string, since time.Time) (int64, error)
	Stats(ctx context.Context, since time.Time) (*types.NotificationStats, error)
}

// DeliveryReader is the read side of the delivery log repository.
type DeliveryReader interface {
	ListByNotification(ctx context.Context, notificationID string) ([]types.DeliveryLog, error)
	DeliveryRates(ctx context.Context, since time.Time) ([]types.DeliveryRate, error)
	FailureAnalysis(ctx context.Context, since time.Time, limit int) ([]types.FailureBucket, error)
}

// ReceiptApplier records delivery receipts reported by a provider.
type ReceiptApplier interface {
	Process(ctx context.Context, receipts []email.Receipt) (email.ReceiptSummary, error)
}

// Deps are the collaborators mounted by the Server. Nil members disable the
// routes that need them.
type Deps struct {
	Notifications  NotificationReader
	Deliveries     DeliveryReader
	Receipts       ReceiptApplier
	Probes         []HealthProbe
	Queues         []QueueInspector
	MetricsHandler http.Handler
	HTTPMetrics    HTTPMetrics
	Logger         types.Logger
	Clock          types.Clock
}

// Server owns the chi router for the ops port.
type Server struct {
	deps   Deps
	logger types.Logger
	clock  types.Clock
	router *chi.Mux
}

// NewServer builds the router and mounts every route.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = types.NopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "ops-api"),
		clock:  deps.Clock,
		router: chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers the middleware chain and routes. Order matters:
// Recoverer is outermost so every panic is caught.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(CorrelationIDMiddleware)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(s.MetricsMiddleware)

	s.router.Get("/health", s.HandleHealth)
	if s.deps.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.MetricsHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.deps.Notifications != nil {
			r.Get("/notifications/{id}", s.handleGetNotification)
			r.Get("/recipients/{id}/notifications", s.handleListByRecipient)
			r.Get("/recipients/{id}/notifications/recent", s.handleRecentByRecipient)
			r.Get("/recipients/{id}/notifications/count", s.handleCountByRecipient)
			r.Get("/references/{type}/{id}/notifications", s.handleListByReference)
			r.Get("/stats/notifications", s.handleNotificationStats)
		}
		if s.deps.Deliveries != nil {
			r.Get("/stats/deliveries", s.handleDeliveryRates)
			r.Get("/stats/failures", s.handleFailureAnalysis)
		}
		if s.deps.Receipts != nil {
			r.Post("/feedback/ses", s.handleSESFeedback)
		}
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts the
// listener down within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("ops server shutdown failed", "error", err.Error())
		return err
	}
	s.logger.Info("ops server stopped")
	return nil
}
