package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileSecretProvider implements SecretProvider by reading mounted secret files,
// the convention used by Docker and Kubernetes secrets.
type FileSecretProvider struct {
	readFile func(name string) ([]byte, error)
}

// NewFileSecretProvider creates a FileSecretProvider reading from the local filesystem.
func NewFileSecretProvider() *FileSecretProvider {
	return &FileSecretProvider{readFile: os.ReadFile}
}

// ResolveBatch reads each referenced file. Missing files are omitted from the
// result; other read errors abort the batch. Trailing newlines are trimmed.
func (p *FileSecretProvider) ResolveBatch(ctx context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.readFile(ref)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read secret %s: %w", ref, err)
		}
		result[ref] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
