package utils

import (
	"net/http"
	"strings"
)

// formatToMime 输出格式到 MIME 类型的映射
var formatToMime = map[string]string{
	"webp": "image/webp",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"avif": "image/avif",
	"gif":  "image/gif",
}

// formatToExt 输出格式到文件扩展名的映射
var formatToExt = map[string]string{
	"webp": ".webp",
	"jpeg": ".jpg",
	"jpg":  ".jpg",
	"png":  ".png",
	"avif": ".avif",
	"gif":  ".gif",
}

// MimeForFormat 返回格式对应的 MIME 类型, 未知格式返回 application/octet-stream
func MimeForFormat(format string) string {
	if m, ok := formatToMime[strings.ToLower(format)]; ok {
		return m
	}
	return "application/octet-stream"
}

// ExtForFormat 返回格式对应的扩展名, 未知格式返回空字符串
func ExtForFormat(format string) string {
	return formatToExt[strings.ToLower(format)]
}

// SniffContentType 根据内容前 512 字节判断 MIME 类型
func SniffContentType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}

// IsImageContentType 判断 MIME 类型是否为图片
func IsImageContentType(contentType string) bool {
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}
