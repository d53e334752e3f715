package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFixture(t, `
StoragePath = "./cache"
Repositories = ["https://repo1.maven.org/maven2"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.ListenPort != DefaultListenPort {
		t.Fatalf("默认端口不符: %d", cfg.ListenPort)
	}
	if cfg.ChunkSize != DefaultChunkSize {
		t.Fatalf("默认分块大小不符: %d", cfg.ChunkSize)
	}
	if cfg.DownloadWorkers != DefaultDownloadWorkers {
		t.Fatalf("默认下载并发不符: %d", cfg.DownloadWorkers)
	}
	if cfg.ConnectTimeout.DurationValue() != DefaultConnectTimeout {
		t.Fatalf("默认连接超时不符: %v", cfg.ConnectTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.StoragePath) {
		t.Fatalf("StoragePath 应为绝对路径: %s", cfg.StoragePath)
	}
}

func TestLoadParsesRepositoriesInOrder(t *testing.T) {
	path := writeConfigFixture(t, `
StoragePath = "./cache"
Repositories = [
  "https://first.example/maven2",
  "https://second.example/maven2",
  "https://third.example/maven2",
]
ConnectTimeout = "5s"
DownloadTimeout = "1m"
FailFast = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	want := []string{
		"https://first.example/maven2",
		"https://second.example/maven2",
		"https://third.example/maven2",
	}
	for i, repo := range want {
		if cfg.Repositories[i] != repo {
			t.Fatalf("仓库顺序被破坏: 期望 %s，得到 %s", repo, cfg.Repositories[i])
		}
	}
	if cfg.ConnectTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("ConnectTimeout 解析错误: %v", cfg.ConnectTimeout.DurationValue())
	}
	if cfg.DownloadTimeout.DurationValue() != time.Minute {
		t.Fatalf("DownloadTimeout 解析错误: %v", cfg.DownloadTimeout.DurationValue())
	}
	if !cfg.FailFast {
		t.Fatal("FailFast 应为 true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("缺失文件应报错")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFixture(t, `
StoragePath = "./cache"
Repositories = ["ftp://bad.example"]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("非法仓库协议应在加载时报错")
	}
}
