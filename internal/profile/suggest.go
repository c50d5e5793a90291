package profile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const minUsernameLength = 3

// SuggestUsername は氏名（なければメールアドレスのローカル部）からユーザー名の候補を作る。
// 小文字化し、アクセント記号と英数字以外を取り除く。候補が作れない場合は空文字。
func SuggestUsername(fullName, email string) string {
	if s := foldUsername(fullName); len(s) >= minUsernameLength {
		return s
	}
	local, _, _ := strings.Cut(email, "@")
	if s := foldUsername(local); len(s) >= minUsernameLength {
		return s
	}
	return ""
}

func foldUsername(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}
