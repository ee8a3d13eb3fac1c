package choice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestEncodeAvatar(t *testing.T) {
	got, err := EncodeAvatar("image/png", pngHeader)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))
	assert.True(t, IsImageAvatar(got))
}

func TestEncodeAvatarRejects(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        error
	}{
		{"empty", "image/png", nil, ErrEmptyAvatar},
		{"text type", "text/plain", []byte("hello"), ErrNotImage},
		{"bad type", ";;", pngHeader, ErrNotImage},
		{"mislabelled", "image/jpeg", []byte("<html><body>hi</body></html>"), ErrNotImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeAvatar(tt.contentType, tt.data)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeAvatarSVG(t *testing.T) {
	got, err := EncodeAvatar("image/svg+xml", []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/svg+xml;base64,"))
}

func TestValidateAvatar(t *testing.T) {
	got, err := ValidateAvatar(" 🎲 ", DefaultAvatarLimit)
	require.NoError(t, err)
	assert.Equal(t, "🎲", got)

	got, err = ValidateAvatar("", DefaultAvatarLimit)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ValidateAvatar("this is far too long", DefaultAvatarLimit)
	require.ErrorIs(t, err, ErrAvatarTooLong)

	_, err = ValidateAvatar("data:application/pdf;base64,AAAA", DefaultAvatarLimit)
	require.ErrorIs(t, err, ErrNotImage)

	_, err = ValidateAvatar("data:image/gif;base64,R0lGODlh", DefaultAvatarLimit)
	require.NoError(t, err)
}

func TestValidateAvatarDataURL(t *testing.T) {
	encoded, err := EncodeAvatar("image/png", pngHeader)
	require.NoError(t, err)

	got, err := ValidateAvatar(encoded, int64(len(pngHeader)))
	require.NoError(t, err)
	assert.Equal(t, encoded, got)

	tests := []struct {
		name   string
		avatar string
		limit  int64
		want   error
	}{
		{"one byte over", encoded, int64(len(pngHeader)) - 1, ErrAvatarTooLarge},
		{"huge payload", "data:image/png;base64," + strings.Repeat("!", 1<<20), 1 << 10, ErrAvatarTooLarge},
		{"not base64", "data:image/png;base64,!!!!", 1 << 10, ErrInvalidAvatar},
		{"not base64 encoded", "data:image/svg+xml,<svg/>", 1 << 10, ErrInvalidAvatar},
		{"no payload separator", "data:image/png;base64", 1 << 10, ErrInvalidAvatar},
		{"empty payload", "data:image/png;base64,", 1 << 10, ErrEmptyAvatar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAvatar(tt.avatar, tt.limit)
			require.ErrorIs(t, err, tt.want)
		})
	}

	// No limit still requires a well-formed payload.
	_, err = ValidateAvatar(encoded, 0)
	require.NoError(t, err)
	_, err = ValidateAvatar("data:image/png;base64,!!!!", 0)
	require.ErrorIs(t, err, ErrInvalidAvatar)
}
