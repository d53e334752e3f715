package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 1480 字节的分块恰好贴合以太网 MTU，24 个下载 worker
// 足以扛住缓存击穿时的并发回源。
const (
	DefaultListenPort      = 5956
	DefaultChunkSize       = 1480
	DefaultDownloadWorkers = 24
	DefaultConnectTimeout  = 20 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultDownloadTimeout = 15 * time.Minute
)

// DefaultRepositories 是未显式配置时使用的有序上游仓库列表。
var DefaultRepositories = []string{
	"https://repo1.maven.org/maven2",
	"https://maven.google.com",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("Repositories", DefaultRepositories)
	v.SetDefault("ChunkSize", DefaultChunkSize)
	v.SetDefault("DownloadWorkers", DefaultDownloadWorkers)
	v.SetDefault("ConnectTimeout", "20s")
	v.SetDefault("ResponseTimeout", "30s")
	v.SetDefault("DownloadTimeout", "15m")
	v.SetDefault("FailFast", false)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.DownloadWorkers == 0 {
		cfg.DownloadWorkers = DefaultDownloadWorkers
	}
	if cfg.ConnectTimeout.DurationValue() == 0 {
		cfg.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if cfg.ResponseTimeout.DurationValue() == 0 {
		cfg.ResponseTimeout = Duration(DefaultResponseTimeout)
	}
	if cfg.DownloadTimeout.DurationValue() == 0 {
		cfg.DownloadTimeout = Duration(DefaultDownloadTimeout)
	}
	if len(cfg.Repositories) == 0 {
		cfg.Repositories = append([]string(nil), DefaultRepositories...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
