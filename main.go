package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
	"github.com/abogadovillegasminero-blip/bless/internal/config"
	"github.com/abogadovillegasminero-blip/bless/internal/lifecycle"
	"github.com/abogadovillegasminero-blip/bless/internal/logging"
	"github.com/abogadovillegasminero-blip/bless/internal/metrics"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/proxy"
	"github.com/abogadovillegasminero-blip/bless/internal/server"
	"github.com/abogadovillegasminero-blip/bless/internal/server/routes"
	"github.com/abogadovillegasminero-blip/bless/internal/version"
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
		fields["domain"] = cfg.Origin.Domain
		fields["stores"] = cfg.Generation().Names()
		fields["backend"] = cfg.Global.StoreBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := newService(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["domain"] = cfg.Origin.Domain
	fields["upstream"] = cfg.Origin.Upstream
	fields["listen_port"] = cfg.Global.ListenPort
	fields["backend"] = cfg.Global.StoreBackend
	fields["state"] = string(svc.manager.State())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg.Global.ListenPort, svc.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有一次启动装配出的全部组件。
type service struct {
	app      *fiber.App
	registry cache.Registry
	manager  *lifecycle.Manager
}

// newService 按"仓库后端 → 回源客户端 → 分发器 → 生命周期 → Fiber app"顺序装配组件，
// 生命周期完成激活后分发器才会接管请求。
func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	registry, err := cache.OpenBackend(cfg.Backend(), cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存仓库失败: %w", err)
	}

	origin, err := server.NewOriginRoute(cfg)
	if err != nil {
		registry.Close()
		return nil, err
	}
	recovery, err := cfg.RecoveryURL()
	if err != nil {
		registry.Close()
		return nil, err
	}

	httpClient := server.NewUpstreamClient(cfg)
	fetcher := network.NewHTTPFetcher(httpClient, network.HTTPFetcherOptions{
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	})

	dispatcher := proxy.NewDispatcher(proxy.DispatcherOptions{
		Registry:      registry,
		Fetcher:       fetcher,
		Origin:        origin.UpstreamURL,
		Rules:         cfg.ClassifierRules(),
		Recovery:      recovery,
		RecoveryScope: cfg.RecoveryScope(),
		Logger:        logger,
	})

	manager := lifecycle.NewManager(lifecycle.Options{
		Registry:   registry,
		Fetcher:    fetcher,
		Generation: cfg.Generation(),
		Manifest:   cfg.Cache.Precache,
		Origin:     origin.UpstreamURL,
		Strict:     cfg.Cache.PrecacheStrict,
		Claimer:    dispatcher,
		LockPath:   cfg.LockPath(),
		Logger:     logger,
	})
	if err := manager.Run(ctx); err != nil {
		// 未激活时分发器保持透传，服务仍然可用。
		logger.WithError(err).WithFields(logrus.Fields{
			"action": "lifecycle",
			"state":  string(manager.State()),
		}).Error("lifecycle_failed")
	}

	latency := metrics.NewLatencyTracker(metrics.DefaultRelativeAccuracy)
	handler := proxy.NewHandler(dispatcher, proxy.NewForwarder(httpClient), logger, latency)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Origin:     origin,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		registry.Close()
		return nil, err
	}
	routes.Register(app, routes.Deps{Registry: registry, Lifecycle: manager, Latency: latency})

	return &service{app: app, registry: registry, manager: manager}, nil
}

// Close 释放仓库后端。
func (s *service) Close() error {
	return s.registry.Close()
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SWCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SWCACHE_CONFIG")
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

func startHTTPServer(port int, app *fiber.App, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
