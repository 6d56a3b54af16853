package config

import "context"

// SecretProvider resolves secret values referenced by pointer variables
// (for example DATABASE_URL_FILE=/run/secrets/database_url). It is injected so
// tests and alternative secret stores can replace the file-based default.
type SecretProvider interface {
	// ResolveBatch returns a map of reference -> plaintext value for every
	// reference that could be resolved.
	ResolveBatch(ctx context.Context, refs []string) (map[string]string, error)
}
