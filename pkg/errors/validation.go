package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// maxTextLength bounds explicit captcha text so a frame can still hold it.
const maxTextLength = 32

// ValidateOutputName validates the base name of an exported artifact.
// It rejects names that could escape the output directory.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path separators or traversal sequences
//   - No hidden files (leading dot)
//   - Maximum length of 128 characters
func ValidateOutputName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidConfig, "output_name cannot be empty")
	}

	if len(name) > 128 {
		return New(ErrCodeInvalidConfig, "output_name too long (max 128 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidConfig, "output_name contains invalid control characters")
		}
	}

	if strings.ContainsAny(name, "/\\") {
		return New(ErrCodeInvalidConfig, "output_name cannot contain path separators")
	}

	if strings.Contains(name, "..") {
		return New(ErrCodeInvalidConfig, "output_name cannot contain path traversal sequences (..)")
	}

	if strings.HasPrefix(name, ".") {
		return New(ErrCodeInvalidConfig, "output_name cannot be a hidden file")
	}

	return nil
}

// ValidateCaptchaText validates an explicit captcha_text override.
// Overrides may use characters outside the safe alphabet, but they must be
// printable and fit on one line.
func ValidateCaptchaText(text string) error {
	if text == "" {
		return New(ErrCodeInvalidConfig, "captcha_text cannot be empty")
	}

	if n := len([]rune(text)); n > maxTextLength {
		return New(ErrCodeInvalidConfig, "captcha_text too long (%d characters, max %d)", n, maxTextLength)
	}

	for _, r := range text {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidConfig, "captcha_text contains non-printable character %q", r)
		}
	}

	return nil
}

// hexColorRegex matches "#RRGGBB" with or without the leading hash.
var hexColorRegex = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// ValidateHexColor validates a color override such as "#DA7756".
// An empty string means "use the color mode default" and is accepted.
func ValidateHexColor(field, value string) error {
	if value == "" {
		return nil
	}
	if !hexColorRegex.MatchString(value) {
		return New(ErrCodeInvalidConfig, "invalid %s %q: must be 6 hex digits", field, value)
	}
	return nil
}
