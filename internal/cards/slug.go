package cards

import (
	"strings"
	"unicode"
)

// Slugify 将标题转为 URL 友好的 slug：小写、字母数字保留，
// 其余字符折叠为单个连字符，首尾不留连字符。
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastHyphen := true // 抑制开头的连字符
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}
