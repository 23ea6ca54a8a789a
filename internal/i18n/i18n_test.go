package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		locale   string
		expected language.Tag
	}{
		{"en_US.UTF-8", language.English},
		{"de_DE.UTF-8", language.German},
		{"de_AT@euro", language.German},
		{"fr_FR", language.English}, // Fallback
		{"C", language.English},
		{"", language.English},
		{"???", language.English},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MatchLanguage(tt.locale), "locale: %s", tt.locale)
	}
}

func TestNewCLIPrinter(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "1.234", NewCLIPrinter().Sprintf("%d", 1234))

	t.Setenv("LANG", "en_US.UTF-8")
	assert.Equal(t, "1,234", NewCLIPrinter().Sprintf("%d", 1234))
}
