package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mvn-hub/mvn-hub/internal/cache"
	"github.com/mvn-hub/mvn-hub/internal/config"
	"github.com/mvn-hub/mvn-hub/internal/flight"
	"github.com/mvn-hub/mvn-hub/internal/logging"
	"github.com/mvn-hub/mvn-hub/internal/proxy"
	"github.com/mvn-hub/mvn-hub/internal/server"
	"github.com/mvn-hub/mvn-hub/internal/upstream"
	"github.com/mvn-hub/mvn-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["repositories"] = config.RepositorySummary(cfg.Repositories)
		fields["storage_path"] = cfg.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → 单飞注册表 → 回源客户端 → Fiber server”顺序，
	// 所有请求共享同一套缓存、注册表与 HTTP client。
	store, err := cache.NewStore(cfg.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Store:    store,
		Headers:  cache.NewHeaders(),
		Registry: flight.NewRegistry(flight.Options{LeaderDeadline: cfg.DownloadTimeout.DurationValue()}),
		Fetcher:  upstream.NewFetcher(upstream.NewClient(cfg), logger),
		Logger:   logger,
		Config:   cfg,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建代理 handler 失败: %v\n", err)
		return 1
	}

	runID := uuid.NewString()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["repositories"] = config.RepositorySummary(cfg.Repositories)
	fields["storage_path"] = cfg.StoragePath
	fields["chunk_size"] = cfg.ChunkSize
	fields["download_workers"] = cfg.DownloadWorkers
	fields["listen_port"] = cfg.ListenPort
	fields["run_id"] = runID
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, runID, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("mvn-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MVN_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MVN_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, handler server.ArtifactHandler, runID string, logger *logrus.Logger) error {
	index, err := server.NewIndexPage(version.Full(), runID, cfg.Repositories)
	if err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Artifacts:  handler,
		Index:      index,
		RunID:      runID,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.ListenPort,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
}
