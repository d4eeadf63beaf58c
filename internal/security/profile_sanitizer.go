package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名の最大文字数。
const maxDisplayNameLength = 255

// ProfileSanitizer はOAuthプロバイダーから受け取ったプロフィール文字列を無害化する。
// タグはすべて除去し、プレーンテキストとして保存できる形にする。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、前後の空白を取り除いて最大長で切り詰める。
// bluemondayがエスケープした実体参照はプレーンテキストに戻す。
func (s *ProfileSanitizer) SanitizeText(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > maxDisplayNameLength {
		cleaned = string([]rune(cleaned)[:maxDisplayNameLength])
	}
	return cleaned
}
