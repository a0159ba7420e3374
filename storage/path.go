package storage

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ObjectKey 由源地址生成确定性的对象键: <folder>/<uuidv5>.<ext>
// 同一源地址总是得到同一个键, 重复上传覆盖同一对象
func ObjectKey(folder, sourceURL, ext string) string {
	id := ObjectID(sourceURL)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return id + ext
	}
	return path.Join(folder, id+ext)
}

// ObjectID 源地址对应的 UUIDv5
func ObjectID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

// IsValidStoragePath 校验存储路径是否合法
func IsValidStoragePath(p string) bool {
	if p == "" || p == "." {
		return false
	}

	// 不允许绝对路径
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}

	// 防止目录遍历
	if strings.Contains(p, "..") {
		return false
	}

	// 只允许安全字符
	for _, r := range p {
		if (r < 'a' || r > 'z') &&
			(r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') &&
			r != '-' && r != '_' && r != '.' && r != '/' {
			return false
		}
	}

	return true
}

// joinURL 拼接公开地址与对象键
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
