package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 是 TOML 文件映射的整体结构，所有请求共享同一份参数。
//
// Repositories 为有序上游仓库列表：回源时严格按照声明顺序逐个尝试，
// 单轮之内不会对同一仓库重试，也不会重新排序。
type Config struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	Repositories    []string `mapstructure:"Repositories"`
	ChunkSize       int      `mapstructure:"ChunkSize"`
	DownloadWorkers int      `mapstructure:"DownloadWorkers"`
	ConnectTimeout  Duration `mapstructure:"ConnectTimeout"`
	ResponseTimeout Duration `mapstructure:"ResponseTimeout"`
	DownloadTimeout Duration `mapstructure:"DownloadTimeout"`
	FailFast        bool     `mapstructure:"FailFast"`
}

// RepositorySummary 返回仓库列表摘要（ordinal:url），供启动日志使用。
func RepositorySummary(repos []string) []string {
	if len(repos) == 0 {
		return nil
	}
	result := make([]string, len(repos))
	for i, repo := range repos {
		result[i] = fmt.Sprintf("%d:%s", i, repo)
	}
	return result
}
