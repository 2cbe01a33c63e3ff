package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// controlChars は本文から除去する制御文字。改行・タブ・復帰は残す。
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x0c\x0e-\x1f\x7f-\x9f]`)

// TextSanitizer はHTML断片からプレーンテキストを取り出す。
// bluemondayのStrictPolicyで全タグを除去し、実体参照を戻したうえで空白を正規化する。
// ポリシーはスレッドセーフなので1インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// ToText はHTMLをプレーンテキストに変換する。
// script, styleの中身はStrictPolicyにより要素ごと捨てられる。
func (s *TextSanitizer) ToText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	// ブロック要素の境界で単語がつながらないよう、タグを空白に置き換える
	stripped := s.policy.Sanitize(strings.ReplaceAll(rawHTML, "<", " <"))
	return CleanText(html.UnescapeString(stripped))
}

// CleanText は制御文字を除去し、連続する空白を1つにまとめる。
func CleanText(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
