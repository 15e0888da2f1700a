package httpx

import (
	"mime"
	"strings"
)

// Attachment 构造 Content-Disposition: attachment 头；name 为空时用 def。
// 纯 ASCII 文件名输出 filename="..."；其它情况交给 mime 做 RFC 2231 编码。
func Attachment(name, def string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = def
	}
	if isPlainASCII(name) {
		return `attachment; filename="` + name + `"`
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return `attachment; filename="` + def + `"`
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// BrowserHeaders 返回回源时模拟浏览器的缺省请求头。
func BrowserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      BrowserUA,
		"Referer":         "https://www.google.com/",
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
}
