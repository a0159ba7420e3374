package utils

import (
	"net/url"
	"strings"
	"unicode"
)

const maxLogURLLength = 256

func SanitizeLogMessage(msg string) string {
	var sb strings.Builder
	for _, r := range msg {
		if r == 10 || r == 9 {
			sb.WriteRune(r)
		} else if unicode.IsPrint(r) || unicode.IsGraphic(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// SanitizeLogURL 去除 URL 中的凭据与控制字符并截断, 用于日志输出
func SanitizeLogURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.User != nil {
		u.User = nil
		raw = u.String()
	}
	raw = strings.NewReplacer("\n", "", "\r", "", "\t", "").Replace(raw)
	if len(raw) > maxLogURLLength {
		raw = raw[:maxLogURLLength] + "..."
	}
	return SanitizeLogMessage(raw)
}
