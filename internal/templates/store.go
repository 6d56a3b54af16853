// Package templates is the Template Store: versioned Handlebars content per
// notification kind and language, with validation and rendering.
package templates

import (
	"context"
	"strings"

	"medinotify/internal/db"
	"medinotify/internal/types"
)

// Repository is the template persistence used by Store.
type Repository interface {
	FindActive(ctx context.Context, kind types.NotificationType, language string) (*types.Template, error)
	GetByID(ctx context.Context, id string) (*types.Template, error)
	ListVersions(ctx context.Context, kind types.NotificationType, language string) ([]types.Template, error)
	CreateVersion(ctx context.Context, t *types.Template) error
	Activate(ctx context.Context, id string) error
}

// TxRunner runs fn against a Repository bound to a single transaction.
type TxRunner func(ctx context.Context, fn func(Repository) error) error

// PostgresTx returns a TxRunner that opens a transaction on beginner.
func PostgresTx(beginner db.TxBeginner) TxRunner {
	return func(ctx context.Context, fn func(Repository) error) error {
		return db.RunInTx(ctx, beginner, func(tx db.DBTX) error {
			return fn(db.NewTemplateRepository(tx))
		})
	}
}

// Store resolves, renders and publishes templates.
type Store struct {
	repo            Repository
	runTx           TxRunner
	defaultLanguage string
	logger          types.Logger
}

// NewStore creates a Store. Lookups for a language without an active
// template fall back to defaultLanguage.
func NewStore(repo Repository, runTx TxRunner, defaultLanguage string, logger types.Logger) *Store {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &Store{
		repo:            repo,
		runTx:           runTx,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// FindActive returns the active template for (kind, language), falling back
// to the default language.
func (s *Store) FindActive(ctx context.Context, kind types.NotificationType, language string) (*types.Template, error) {
	language = s.normalizeLanguage(language)
	t, err := s.repo.FindActive(ctx, kind, language)
	if err == nil || language == s.defaultLanguage || !types.IsCode(err, types.ErrCodeTemplateNotFound) {
		return t, err
	}

	t, fallbackErr := s.repo.FindActive(ctx, kind, s.defaultLanguage)
	if fallbackErr != nil {
		return nil, err
	}
	s.logger.Info("template language fallback",
		"type", string(kind), "requested", language, "used", s.defaultLanguage)
	return t, nil
}

// Validate reports the required variables missing from data.
func (s *Store) Validate(t *types.Template, data types.DataBag) types.ValidationResult {
	return Validate(t, data)
}

// Render renders t against data.
func (s *Store) Render(t *types.Template, data types.DataBag) (*types.RenderedContent, error) {
	return Render(t, data)
}

// RenderActive finds the active template for (kind, language) and renders it.
func (s *Store) RenderActive(ctx context.Context, kind types.NotificationType, language string, data types.DataBag) (*types.RenderedContent, error) {
	t, err := s.FindActive(ctx, kind, language)
	if err != nil {
		return nil, err
	}
	return Render(t, data)
}

// Versions lists every stored version for (kind, language), newest first.
func (s *Store) Versions(ctx context.Context, kind types.NotificationType, language string) ([]types.Template, error) {
	return s.repo.ListVersions(ctx, kind, s.normalizeLanguage(language))
}

// Publish stores t as the next version for its (kind, language) and, when
// activate is set, makes it the active version in the same transaction.
// Every sub-template is compiled first so a malformed version is never stored.
func (s *Store) Publish(ctx context.Context, t *types.Template, activate bool) error {
	if !t.Type.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEnum,
			"unknown notification type", nil, map[string]any{"type": string(t.Type)})
	}
	if strings.TrimSpace(t.Name) == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"template name is required", nil, map[string]any{"field": "name"})
	}
	t.Language = s.normalizeLanguage(t.Language)
	if err := Compile(t); err != nil {
		return err
	}

	err := s.runTx(ctx, func(repo Repository) error {
		if err := repo.CreateVersion(ctx, t); err != nil {
			return err
		}
		if !activate {
			return nil
		}
		if err := repo.Activate(ctx, t.ID); err != nil {
			return err
		}
		t.IsActive = true
		return nil
	})
	if err != nil {
		t.IsActive = false
		return err
	}

	s.logger.Info("template published",
		"type", string(t.Type), "language", t.Language, "version", t.Version, "active", t.IsActive)
	return nil
}

// Activate makes the version with the given ID the only active one for its
// (kind, language).
func (s *Store) Activate(ctx context.Context, id string) error {
	if err := s.runTx(ctx, func(repo Repository) error {
		return repo.Activate(ctx, id)
	}); err != nil {
		return err
	}
	s.logger.Info("template activated", "template_id", id)
	return nil
}

func (s *Store) normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return s.defaultLanguage
	}
	return language
}
