package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func TestText(t *testing.T) {
	v, err := Text("требования", "  Синий логотип  ", 100)
	require.NoError(t, err)
	assert.Equal(t, "Синий логотип", v)

	_, err = Text("требования", "   ", 100)
	assert.True(t, apperror.IsValidation(err))

	// длина считается в символах, а не в байтах
	_, err = Text("название", strings.Repeat("я", 5), 5)
	assert.NoError(t, err)
	_, err = Text("название", strings.Repeat("я", 6), 5)
	assert.True(t, apperror.IsValidation(err))
}

func TestOptionalText(t *testing.T) {
	v, err := OptionalText("комментарий", "  ", MaxNoteLength)
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = OptionalText("комментарий", strings.Repeat("a", MaxNoteLength+1), MaxNoteLength)
	assert.True(t, apperror.IsValidation(err))
}

func TestValidateExternalLink(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		wantErr bool
	}{
		{"https", " https://example.com/proof.png ", false},
		{"http", "http://example.com", false},
		{"empty", "", true},
		{"ftp", "ftp:/broken", true},
		{"relative", "/proof.png", true},
		{"no host", "https://", true},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxExternalLinkLength), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ValidateExternalLink(tt.link)
			if tt.wantErr {
				assert.True(t, apperror.IsValidation(err), "ожидалась ошибка валидации, получено %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.link), link)
		})
	}
}

func TestValidateAttachments(t *testing.T) {
	out, err := ValidateAttachments([]string{" logo.svg ", "", "https://cdn.example/brand.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"logo.svg", "https://cdn.example/brand.pdf"}, out)

	out, err = ValidateAttachments(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = ValidateAttachments(make([]string, MaxAttachments+1))
	assert.True(t, apperror.IsValidation(err))
}
