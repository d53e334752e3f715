package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Validator 描述一个已提交条目的条件请求头。相同字节序列必然得到相同的
// SHA1Hex/ETag，客户端可据此做 If-None-Match 校验而无需再次回源。
type Validator struct {
	SHA1Hex      string
	ETag         string
	LastModified time.Time
}

// Headers 按需计算缓存条目的校验头：首次请求时对正文做一次 SHA-1，
// 之后命中内存缓存。条目被替换（size/modtime 变化）时自动重算。
type Headers struct {
	entries sync.Map // key: artifact path, value: headerRecord
}

type headerRecord struct {
	sig       string
	validator Validator
}

// NewHeaders 构造空的校验头计算器，整站复用一份实例。
func NewHeaders() *Headers {
	return &Headers{}
}

// For 返回条目的校验头，必要时读取正文计算 SHA-1。
func (h *Headers) For(entry Entry) (Validator, error) {
	sig := entrySignature(entry)
	if value, ok := h.entries.Load(entry.Path); ok {
		record := value.(headerRecord)
		if record.sig == sig {
			return record.validator, nil
		}
	}

	sum, err := hashFile(entry.FilePath)
	if err != nil {
		return Validator{}, newStorageError("hash", err)
	}

	validator := Validator{
		SHA1Hex:      sum,
		ETag:         `"` + sum + `"`,
		LastModified: entry.ModTime,
	}
	h.entries.Store(entry.Path, headerRecord{sig: sig, validator: validator})
	return validator, nil
}

// Forget 丢弃某个路径的缓存校验头，供条目失效时调用。
func (h *Headers) Forget(path string) {
	h.entries.Delete(path)
}

// Matches 判断请求携带的 If-None-Match 是否命中当前 ETag。
func (v Validator) Matches(ifNoneMatch string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, candidate := range splitETags(ifNoneMatch) {
		if `"`+candidate+`"` == v.ETag {
			return true
		}
	}
	return false
}

func entrySignature(entry Entry) string {
	return fmt.Sprintf("%d:%d", entry.SizeBytes, entry.ModTime.UnixNano())
}

func hashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha1.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func splitETags(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		// 弱校验前缀对字节级校验没有意义，直接剥离。
		trimmed = strings.TrimPrefix(trimmed, "W/")
		trimmed = strings.Trim(trimmed, `"`)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
