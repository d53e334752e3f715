package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// 1 MiB 的分块已经失去“流式”意义，视为配置错误。
const maxChunkSize = 1 << 20

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if c.ChunkSize <= 0 {
		return newFieldError("ChunkSize", "必须大于 0")
	}
	if c.ChunkSize > maxChunkSize {
		return newFieldError("ChunkSize", fmt.Sprintf("不能超过 %d", maxChunkSize))
	}
	if c.DownloadWorkers <= 0 {
		return newFieldError("DownloadWorkers", "必须大于 0")
	}
	if c.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("ConnectTimeout", "必须大于 0")
	}
	if c.ResponseTimeout.DurationValue() <= 0 {
		return newFieldError("ResponseTimeout", "必须大于 0")
	}
	if c.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("DownloadTimeout", "必须大于 0")
	}

	if len(c.Repositories) == 0 {
		return errors.New("至少需要配置一个上游仓库")
	}

	seen := map[string]struct{}{}
	for i, repo := range c.Repositories {
		normalized := strings.TrimRight(strings.TrimSpace(repo), "/")
		if err := validateRepository(normalized); err != nil {
			return fmt.Errorf("%s: %w", repoField(i), err)
		}
		if _, exists := seen[normalized]; exists {
			return newFieldError(repoField(i), "重复")
		}
		seen[normalized] = struct{}{}
		c.Repositories[i] = normalized
	}

	return nil
}

func validateRepository(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
