package templates

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"medinotify/internal/types"
)

// SeedFile is the YAML document read by LoadSeedFile.
type SeedFile struct {
	Templates []SeedTemplate `yaml:"templates"`
}

// SeedTemplate is one template version in a seed file.
type SeedTemplate struct {
	Type         types.NotificationType   `yaml:"type"`
	Name         string                   `yaml:"name"`
	Language     string                   `yaml:"language"`
	Activate     *bool                    `yaml:"activate"`
	Title        *string                  `yaml:"title"`
	Body         *string                  `yaml:"body"`
	EmailSubject *string                  `yaml:"emailSubject"`
	EmailBody    *string                  `yaml:"emailBody"`
	SMS          *string                  `yaml:"sms"`
	Variables    []types.TemplateVariable `yaml:"variables"`
}

// ShouldActivate reports whether the version is activated on publish. It
// defaults to true.
func (st SeedTemplate) ShouldActivate() bool {
	return st.Activate == nil || *st.Activate
}

// Template converts the seed entry to a Template ready for Publish.
func (st SeedTemplate) Template() *types.Template {
	return &types.Template{
		Type:         st.Type,
		Name:         st.Name,
		Language:     st.Language,
		Title:        st.Title,
		Body:         st.Body,
		EmailSubject: st.EmailSubject,
		EmailBody:    st.EmailBody,
		SMS:          st.SMS,
		Variables:    types.TemplateVariables(st.Variables),
	}
}

// ParseSeed decodes a seed document and rejects unknown notification types.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	for i, st := range seed.Templates {
		if !st.Type.Valid() {
			return nil, fmt.Errorf("seed template %d: unknown notification type %q", i, st.Type)
		}
	}
	return &seed, nil
}

// LoadSeedFile reads and parses the seed document at path.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// PublishSeed publishes every template in seed, stopping at the first failure.
// It returns the number of versions stored.
func (s *Store) PublishSeed(ctx context.Context, seed *SeedFile) (int, error) {
	for i, st := range seed.Templates {
		t := st.Template()
		if err := s.Publish(ctx, t, st.ShouldActivate()); err != nil {
			return i, fmt.Errorf("publishing %s/%s: %w", st.Type, st.Language, err)
		}
	}
	return len(seed.Templates), nil
}
