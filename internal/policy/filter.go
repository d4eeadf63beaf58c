// Package policy はサブドメイン名の形式検証と語句ポリシーを提供する。
package policy

import (
	_ "embed"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed blocked_terms.yaml
var defaultTerms []byte

// Checker はラベルが語句ポリシーに違反するかを判定するインターフェース。
type Checker interface {
	IsDisallowed(label string) bool
}

// Terms はポリシー定義ファイルの内容。
type Terms struct {
	Terms    []string `yaml:"terms"`
	Words    []string `yaml:"words"`
	Reserved []string `yaml:"reserved"`
}

// Filter はラベルを語句リストと照合する。状態を変更しないため並行利用できる。
type Filter struct {
	terms    []string
	words    map[string]struct{}
	reserved map[string]struct{}
}

// NewDefaultFilter は埋め込みのポリシー定義からFilterを生成する。
func NewDefaultFilter() (*Filter, error) {
	return LoadFilter(defaultTerms)
}

// LoadFilter はYAML形式のポリシー定義からFilterを生成する。
func LoadFilter(data []byte) (*Filter, error) {
	var t Terms
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing policy terms: %w", err)
	}
	return NewFilter(t), nil
}

// NewFilter は語句リストからFilterを生成する。
func NewFilter(t Terms) *Filter {
	f := &Filter{
		words:    make(map[string]struct{}, len(t.Words)),
		reserved: make(map[string]struct{}, len(t.Reserved)),
	}
	for _, term := range t.Terms {
		if term = fold(term); term != "" {
			f.terms = append(f.terms, term)
		}
	}
	for _, w := range t.Words {
		if w = fold(w); w != "" {
			f.words[w] = struct{}{}
		}
	}
	for _, r := range t.Reserved {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			f.reserved[r] = struct{}{}
		}
	}
	return f
}

// IsDisallowed はラベルがポリシーに違反する場合にtrueを返す。
// 予約語は完全一致、語句は数字の置き換えとハイフンを正規化したうえで照合する。
func (f *Filter) IsDisallowed(label string) bool {
	lower := strings.ToLower(strings.TrimSpace(label))
	if _, ok := f.reserved[lower]; ok {
		return true
	}

	folded := fold(lower)
	for _, term := range f.terms {
		if strings.Contains(folded, term) {
			return true
		}
	}

	if _, ok := f.words[folded]; ok {
		return true
	}
	for _, part := range strings.Split(lower, "-") {
		if _, ok := f.words[fold(part)]; ok {
			return true
		}
	}
	return false
}

// leet は見た目の似た数字・記号を英字に戻す。
var leet = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"-", "",
	"_", "",
	" ", "",
)

func fold(s string) string {
	return leet.Replace(strings.ToLower(strings.TrimSpace(s)))
}

var _ Checker = (*Filter)(nil)
