package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"medinotify/internal/types"
)

const templateColumns = `id, type, name, language, version, is_active,
	title_template, body_template, email_subject_template, email_body_template,
	sms_template, variables, created_at`

// TemplateRepository provides data access for the templates table. Versions
// are immutable: content changes are new rows with a higher version.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindActive returns the active template for (kind, language).
func (r *TemplateRepository) FindActive(ctx context.Context, kind types.NotificationType, language string) (*types.Template, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates
		 WHERE type = $1 AND language = $2 AND is_active`,
		string(kind), language,
	)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeTemplateNotFound,
			"no active template", nil, map[string]any{"type": string(kind), "language": language})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find active template", err)
	}
	return t, nil
}

// GetByID retrieves a template version by ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*types.Template, error) {
	row := r.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeTemplateNotFound,
			"template not found", nil, map[string]any{"template_id": id})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get template", err)
	}
	return t, nil
}

// ListVersions returns every version for (kind, language), newest first.
func (r *TemplateRepository) ListVersions(ctx context.Context, kind types.NotificationType, language string) ([]types.Template, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+` FROM templates
		 WHERE type = $1 AND language = $2
		 ORDER BY version DESC`,
		string(kind), language,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list template versions", err)
	}
	defer rows.Close()

	var results []types.Template
	for rows.Next() {
		t, scanErr := scanTemplate(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan template row", scanErr)
		}
		results = append(results, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating template rows", err)
	}
	return results, nil
}

// CreateVersion inserts t as the next version for its (kind, language). The
// new version starts inactive; t.Version, t.ID and t.CreatedAt are populated.
func (r *TemplateRepository) CreateVersion(ctx context.Context, t *types.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO templates
		 (id, type, name, language, version, is_active,
		  title_template, body_template, email_subject_template, email_body_template,
		  sms_template, variables)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COALESCE(MAX(version), 0) + 1 FROM templates WHERE type = $2 AND language = $4),
		         FALSE, $5, $6, $7, $8, $9, $10)
		 RETURNING version, created_at`,
		t.ID,
		string(t.Type),
		t.Name,
		t.Language,
		t.Title,
		t.Body,
		t.EmailSubject,
		t.EmailBody,
		t.SMS,
		t.Variables,
	).Scan(&t.Version, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeInvalidTransition,
				"concurrent template version creation; retry", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create template version", err)
	}
	t.IsActive = false
	return nil
}

// Activate makes the template with the given ID the only active version for
// its (kind, language). It must run inside a transaction: siblings are
// deactivated before the target is activated so the partial unique index
// never sees two active rows.
func (r *TemplateRepository) Activate(ctx context.Context, id string) error {
	var kind, language string
	err := r.db.QueryRow(ctx,
		`SELECT type, language FROM templates WHERE id = $1 FOR UPDATE`, id,
	).Scan(&kind, &language)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppErrorWithDetails(types.ErrCodeTemplateNotFound,
			"template not found", nil, map[string]any{"template_id": id})
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to lock template", err)
	}

	// Serialize activations of the same (kind, language) pair.
	if _, err := r.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`, kind, language,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to lock template family", err)
	}

	if _, err := r.db.Exec(ctx,
		`UPDATE templates SET is_active = FALSE
		 WHERE type = $1 AND language = $2 AND is_active AND id <> $3`,
		kind, language, id,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate sibling templates", err)
	}

	if _, err := r.db.Exec(ctx,
		`UPDATE templates SET is_active = TRUE WHERE id = $1`, id,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate template", err)
	}
	return nil
}

func scanTemplate(row pgx.Row) (*types.Template, error) {
	var (
		t    types.Template
		kind string
	)
	if err := row.Scan(
		&t.ID,
		&kind,
		&t.Name,
		&t.Language,
		&t.Version,
		&t.IsActive,
		&t.Title,
		&t.Body,
		&t.EmailSubject,
		&t.EmailBody,
		&t.SMS,
		&t.Variables,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Type = types.NotificationType(kind)
	return &t, nil
}
