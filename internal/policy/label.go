package policy

import (
	"errors"
	"strings"
)

const (
	// MinLabelLength はラベルの最小文字数。
	MinLabelLength = 3
	// MaxLabelLength はラベルの最大文字数（DNSラベルの上限）。
	MaxLabelLength = 63
)

var (
	ErrLabelLength  = errors.New("subdomain must be between 3 and 63 characters")
	ErrLabelCharset = errors.New("subdomain may contain only letters, digits and hyphens")
	ErrLabelHyphen  = errors.New("subdomain must not start or end with a hyphen")
)

// NormalizeLabel はラベルの形式を検証し、小文字化して返す。
func NormalizeLabel(raw string) (string, error) {
	label := strings.TrimSpace(raw)
	if len(label) < MinLabelLength || len(label) > MaxLabelLength {
		return "", ErrLabelLength
	}
	for _, r := range label {
		if !isLabelRune(r) {
			return "", ErrLabelCharset
		}
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return "", ErrLabelHyphen
	}
	return strings.ToLower(label), nil
}

func isLabelRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		return true
	}
	return false
}
