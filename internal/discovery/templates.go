// internal/discovery/templates.go
package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// MaxTemplates is the number of templates kept from the file
	MaxTemplates = 32
	// MaxTemplateLen bounds a template name, exclusive
	MaxTemplateLen = 64
)

// ErrNoTemplates is returned when the file yields no usable template
var ErrNoTemplates = errors.New("no valid templates found")

// Templates selects the /dev entries worth a MAVLink check.
// A template matches a name exactly or, with a trailing '*', as a prefix.
type Templates struct {
	patterns []string
}

// NewTemplates builds a matcher from patterns as given
func NewTemplates(patterns ...string) *Templates {
	return &Templates{patterns: append([]string(nil), patterns...)}
}

// LoadTemplates reads {"allowed_templates": [...]} from path
func LoadTemplates(path string, logger *zap.Logger) (*Templates, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read templates %s: %w", path, err)
	}

	raw, ok := v.Get("allowed_templates").([]interface{})
	if !ok {
		return nil, fmt.Errorf("templates %s: 'allowed_templates' is not an array", path)
	}

	t := &Templates{}
	for _, item := range raw {
		if len(t.patterns) >= MaxTemplates {
			logger.Warn("Too many templates, ignoring the rest", zap.Int("max", MaxTemplates))
			break
		}
		pattern, ok := item.(string)
		if !ok {
			logger.Warn("Non-string value in allowed_templates", zap.Any("value", item))
			continue
		}
		if len(pattern) >= MaxTemplateLen {
			logger.Warn("Template too long, skipping",
				zap.String("template", pattern),
				zap.Int("max_len", MaxTemplateLen-1),
			)
			continue
		}
		if pattern == "" {
			continue
		}
		t.patterns = append(t.patterns, pattern)
	}

	if len(t.patterns) == 0 {
		return nil, fmt.Errorf("templates %s: %w", path, ErrNoTemplates)
	}
	return t, nil
}

// Match reports whether a /dev entry name is monitored
func (t *Templates) Match(name string) bool {
	for _, pattern := range t.patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == pattern {
			return true
		}
	}
	return false
}

// Patterns returns the loaded templates
func (t *Templates) Patterns() []string {
	return append([]string(nil), t.patterns...)
}

// Len returns the number of templates
func (t *Templates) Len() int {
	return len(t.patterns)
}
