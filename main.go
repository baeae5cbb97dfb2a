package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/cache"
	"github.com/cinehub/cinehub/internal/catalog"
	"github.com/cinehub/cinehub/internal/config"
	"github.com/cinehub/cinehub/internal/fetch"
	"github.com/cinehub/cinehub/internal/logging"
	"github.com/cinehub/cinehub/internal/refresh"
	"github.com/cinehub/cinehub/internal/server"
	"github.com/cinehub/cinehub/internal/server/routes"
	"github.com/cinehub/cinehub/internal/throttle"
	"github.com/cinehub/cinehub/internal/tmdb"
	"github.com/cinehub/cinehub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	refreshOnce bool
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

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["catalogs"] = catalogKeys(cfg)
		fields["cache_policy"] = cfg.Global.CachePolicy
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → 上游客户端 → 目录服务 → Fiber server，
	// 所有组件共享同一个 store 实例。
	store, err := buildStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	svc, err := buildCatalogService(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建目录服务失败: %v\n", err)
		return 1
	}

	if opts.refreshOnce {
		return runRefresh(svc, logger)
	}

	stopWatch, err := config.Watch(opts.configPath, logger, func(next *config.Config) {
		if err := svc.Apply(next); err != nil {
			logger.WithFields(logging.BaseFields("config_reload", opts.configPath)).WithError(err).Warn("catalog_apply_failed")
		}
	})
	if err != nil {
		logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).WithError(err).Warn("config_watch_disabled")
	} else {
		defer stopWatch()
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["catalogs"] = svc.Registry().Keys()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["cache_policy"] = cfg.Global.CachePolicy
	fields["version"] = version.Full()
	if info, err := store.Info(context.Background()); err == nil {
		fields["cache_entries"] = info.Count
		fields["cache_size"] = humanize.Bytes(uint64(info.TotalSizeBytes))
	}
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, store, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cinehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		refreshOnce bool
		showVer     bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CINEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&refreshOnce, "refresh", false, "强制刷新全部目录后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CINEHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		refreshOnce: refreshOnce,
		showVersion: showVer,
	}, nil
}

func buildStore(cfg *config.Config, logger *logrus.Logger) (cache.Store, error) {
	if cfg.Global.StorageDriver == config.StorageDriverMemory {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewStore(cfg.Global.StoragePath, logger)
}

func buildCatalogService(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*catalog.Service, error) {
	client, err := tmdb.NewClient(tmdb.Options{
		HTTPClient: server.NewUpstreamClient(cfg),
		BaseURL:    cfg.Global.APIBaseURL,
		APIKey:     cfg.Global.APIKey,
		Language:   cfg.Global.Language,
		Limiter:    throttle.NewLimiter(cfg.Global.RateLimitRequests, cfg.Global.RateLimitWindow.DurationValue()),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	registry, err := catalog.NewRegistry(catalog.FromConfig(cfg))
	if err != nil {
		return nil, err
	}

	orchestrator := fetch.NewOrchestrator(store, logger)
	return catalog.NewService(catalog.Options{
		Registry:    registry,
		Fetcher:     orchestrator,
		Upstream:    client,
		Coordinator: refresh.NewCoordinator(orchestrator, logger, cfg.Global.RefreshConcurrency),
		DefaultTTL:  cfg.EffectiveCacheTTL(config.CatalogConfig{}),
		Logger:      logger,
	})
}

// runRefresh 执行一次批量刷新，任一目录失败时返回非零退出码。
func runRefresh(svc *catalog.Service, logger *logrus.Logger) int {
	report := svc.RefreshAll(context.Background())
	if !report.OK() {
		fmt.Fprintf(stdErr, "刷新失败的目录: %v\n", report.FailedKeys())
		return 1
	}
	fmt.Fprintf(stdOut, "已刷新 %d 个目录，用时 %s\n", len(report.Succeeded), report.Duration)
	return 0
}

func catalogKeys(cfg *config.Config) []string {
	if len(cfg.Catalogs) > 0 {
		return config.CatalogKeys(cfg.Catalogs)
	}
	return config.CatalogKeys(catalog.DefaultCatalogs())
}

func startHTTPServer(cfg *config.Config, store cache.Store, svc *catalog.Service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, store, svc, logger)
	routes.RegisterCatalogRoutes(app, svc, logger)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		logger.WithFields(logrus.Fields{"action": "shutdown", "signal": sig.String()}).Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
