// internal/discovery/templates_test.go
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTemplates(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTemplates_Match(t *testing.T) {
	templates := NewTemplates("ttyACM*", "ttyUSB0", "serial0")

	tests := []struct {
		name string
		want bool
	}{
		{"ttyACM0", true},
		{"ttyACM12", true},
		{"ttyACM", true},
		{"ttyUSB0", true},
		{"ttyUSB1", false},
		{"ttyUSB", false},
		{"serial0", true},
		{"serial01", false},
		{"ttyS0", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, templates.Match(tt.name))
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	path := writeTemplates(t, `{"allowed_templates": ["ttyACM*", 7, "ttyUSB*", null]}`)

	templates, err := LoadTemplates(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ttyACM*", "ttyUSB*"}, templates.Patterns())
	assert.True(t, templates.Match("ttyUSB3"))
}

func TestLoadTemplates_Limits(t *testing.T) {
	var entries []string
	entries = append(entries, fmt.Sprintf("%q", strings.Repeat("x", MaxTemplateLen)))
	entries = append(entries, fmt.Sprintf("%q", strings.Repeat("y", MaxTemplateLen-1)))
	for i := 0; i < MaxTemplates+5; i++ {
		entries = append(entries, fmt.Sprintf(`"ttyX%d"`, i))
	}
	path := writeTemplates(t, `{"allowed_templates": [`+strings.Join(entries, ",")+`]}`)

	templates, err := LoadTemplates(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, MaxTemplates, templates.Len())
	assert.False(t, templates.Match(strings.Repeat("x", MaxTemplateLen)))
	assert.True(t, templates.Match(strings.Repeat("y", MaxTemplateLen-1)))
	assert.True(t, templates.Match("ttyX30"))
	assert.False(t, templates.Match("ttyX31"))
}

func TestLoadTemplates_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not an array", `{"allowed_templates": "ttyACM*"}`},
		{"missing key", `{"templates": ["ttyACM*"]}`},
		{"empty", `{"allowed_templates": []}`},
		{"only invalid", `{"allowed_templates": [1, 2, true]}`},
		{"bad json", `{"allowed_templates": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTemplates(writeTemplates(t, tt.content), zap.NewNop())
			assert.Error(t, err)
		})
	}

	_, err := LoadTemplates(writeTemplates(t, `{"allowed_templates": []}`), zap.NewNop())
	assert.ErrorIs(t, err, ErrNoTemplates)
}
