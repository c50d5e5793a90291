package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は掲載情報の入力テキストをサニタイズする。
// 説明文は段落・改行・強調・リストのみを残し、その他のフィールドは全タグを除去する。
type TextSanitizer struct {
	description *bluemonday.Policy
	plain       *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")

	return &TextSanitizer{
		description: p,
		plain:       bluemonday.StrictPolicy(),
	}
}

// Description は説明文をサニタイズする。属性はすべて除去される。
// 表示される文字が残らない場合は空文字を返す。
func (s *TextSanitizer) Description(raw string) string {
	out := strings.TrimSpace(s.description.Sanitize(raw))
	if s.Plain(out) == "" {
		return ""
	}
	return out
}

// Plain はタグを除去した平文を返す。
func (s *TextSanitizer) Plain(raw string) string {
	// StrictPolicyはエスケープ済みの文字列を返すため、保存用に戻す
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(raw)))
}
