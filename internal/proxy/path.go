package proxy

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidPath 表示请求路径为空或包含遍历段，在触达缓存/注册表/网络之前拒绝。
var ErrInvalidPath = errors.New("invalid artifact path")

// NormalizeArtifactPath 把原始请求路径规范为缓存与注册表共用的唯一键：
// 只做一次百分号解码、统一分隔符、大小写敏感。遍历段（"." / ".."）一律拒绝，
// 解码后再出现的编码序列不会被二次解码。
func NormalizeArtifactPath(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", ErrInvalidPath
	}

	decoded = strings.ReplaceAll(decoded, "\\", "/")
	decoded = strings.TrimPrefix(decoded, "/")
	if decoded == "" || strings.ContainsRune(decoded, 0) {
		return "", ErrInvalidPath
	}

	// 遍历检查必须在 Clean 之前：Clean 会把 "a/../b" 折叠成 "b"，
	// 而这类路径按约定直接视为非法，不做好心的修复。
	for _, segment := range strings.Split(decoded, "/") {
		if segment == "." || segment == ".." {
			return "", ErrInvalidPath
		}
	}

	clean := path.Clean(decoded)
	if clean == "" || clean == "." || clean == "/" {
		return "", ErrInvalidPath
	}
	return clean, nil
}
