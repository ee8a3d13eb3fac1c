/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxGlyphRunes = 8

// EncodeAvatar turns an uploaded image into a data URL that can be stored as
// an avatar. The declared content type must be an image, and unless it is SVG
// the payload must also sniff as one.
func EncodeAvatar(contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAvatar
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", ErrNotImage
	}

	if mediaType != "image/svg+xml" {
		sniffed := http.DetectContentType(data)
		if !strings.HasPrefix(sniffed, "image/") {
			return "", ErrNotImage
		}
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ValidateAvatar checks a stored avatar value: either a short glyph such as an
// emoji, or a base64 image data URL whose payload is at most limit bytes. A
// limit of zero or less disables the size check. The result is trimmed.
func ValidateAvatar(avatar string, limit int64) (string, error) {
	avatar = strings.TrimSpace(avatar)

	if strings.HasPrefix(avatar, "data:") {
		if !strings.HasPrefix(avatar, "data:image/") {
			return "", ErrNotImage
		}

		header, payload, ok := strings.Cut(avatar, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return "", ErrInvalidAvatar
		}

		// Padding can shave at most two bytes off the estimate.
		if limit > 0 && int64(base64.StdEncoding.DecodedLen(len(payload)))-2 > limit {
			return "", ErrAvatarTooLarge
		}

		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", ErrInvalidAvatar
		}
		if len(data) == 0 {
			return "", ErrEmptyAvatar
		}
		if limit > 0 && int64(len(data)) > limit {
			return "", ErrAvatarTooLarge
		}

		return avatar, nil
	}

	if utf8.RuneCountInString(avatar) > maxGlyphRunes {
		return "", ErrAvatarTooLong
	}

	return avatar, nil
}

// IsImageAvatar reports whether an avatar holds an image rather than a glyph.
func IsImageAvatar(avatar string) bool {
	return strings.HasPrefix(avatar, "data:image/")
}
