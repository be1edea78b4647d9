package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/cleanup"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/metadata"
	"github.com/any-hub/offline-hub/internal/metadata/redisstore"
	"github.com/any-hub/offline-hub/internal/metadata/sqlite"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/router"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/strategy"
	"github.com/any-hub/offline-hub/internal/version"
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
		fmt.Fprintln(stdOut, version.Full())
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
		fields["domain"] = cfg.App.Domain
		fields["metadata_backend"] = cfg.Global.MetadataBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 缓存/元数据 → 抓取管线 → 策略/路由 → Fiber server”顺序，
	// 保证所有请求共享同一套缓存、元数据与冷启动状态。
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer rt.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["domain"] = cfg.App.Domain
	fields["upstream"] = cfg.App.Upstream
	fields["cache_name"] = cfg.Global.CacheName
	fields["metadata_backend"] = cfg.Global.MetadataBackend
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rt.start(ctx)

	if err := startHTTPServer(ctx, cfg, rt.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
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

// hubRuntime 持有一次运行中共享的全部组件。
type hubRuntime struct {
	app         *fiber.App
	meta        *metadata.Store
	strategies  *strategy.Strategies
	broadcaster *notify.Broadcaster
	scheduler   *cleanup.Scheduler
	router      *router.Router
	logger      *logrus.Logger
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*hubRuntime, error) {
	route, err := server.NewAppRoute(cfg)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.Global.StoragePath, cfg.Global.CacheName)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	meta := metadata.New(metadataOpener(cfg), logger)

	baseClient := server.NewUpstreamClient(cfg)
	network := fetch.NewNetwork(baseClient, route.Origin, route.UpstreamURL,
		fetch.WithClientWrapper(func(c *http.Client) *http.Client {
			return server.NewRetryingClient(c, cfg, logger)
		}),
	)
	pipeline := fetch.NewPipeline(network, store, meta, route.Origin, logger)

	broadcaster := notify.NewBroadcaster()
	notifier := notify.NewNotifier(store, broadcaster, logger)
	strategies := strategy.New(pipeline, store, meta, notifier, strategy.Options{
		Throttle:    cfg.Global.RefreshThrottle.DurationValue(),
		OfflinePage: route.OfflinePage,
	}, logger)

	rtr := router.New(router.Options{
		Origin:        route.Origin,
		Strategies:    strategies,
		ColdBootParam: cfg.App.ColdBootParam,
		Logger:        logger,
	})

	task := cleanup.NewTask(meta, store, cfg.Global.ExpiryWindow.DurationValue(), logger)
	scheduler := cleanup.NewScheduler(task, cfg.Global.CacheName, cfg.Global.CleanupInterval.DurationValue(), logger)

	handler := proxy.NewHandler(proxy.Options{
		Router:  rtr,
		Offline: strategies,
		Client:  baseClient,
		Mapper:  network,
		Logger:  logger,
	})
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Route:      route,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterControlRoutes(app, routes.Controls{
		Route:     route,
		CacheName: cfg.Global.CacheName,
		Routes:    rtr.Routes(),
		ColdBoot:  rtr.ColdBoot(),
		Events:    broadcaster,
		Sync:      scheduler,
		Logger:    logger,
	})

	return &hubRuntime{
		app:         app,
		meta:        meta,
		strategies:  strategies,
		broadcaster: broadcaster,
		scheduler:   scheduler,
		router:      rtr,
		logger:      logger,
	}, nil
}

// start 注册“元数据就绪即清理一次”的回调，随后启动周期清理并预热连接。
func (r *hubRuntime) start(ctx context.Context) {
	r.meta.OnReady(func() {
		r.scheduler.RunNow(ctx)
	})
	go r.scheduler.Start(ctx)
	go func() {
		if err := r.meta.Open(ctx); err != nil {
			r.logger.WithFields(logrus.Fields{"action": "metadata_warmup"}).WithError(err).Warn("metadata_warmup_failed")
		}
	}()
}

func (r *hubRuntime) close() {
	r.broadcaster.Close()
	r.strategies.Wait()
	if err := r.meta.Close(); err != nil {
		r.logger.WithFields(logrus.Fields{"action": "metadata_close"}).WithError(err).Warn("metadata_close_failed")
	}
}

func metadataOpener(cfg *config.Config) metadata.Opener {
	if cfg.Global.MetadataBackend == config.MetadataBackendRedis {
		return redisstore.Opener(cfg.Global.RedisAddr, cfg.Global.RedisDB, cfg.Global.CacheName)
	}
	return sqlite.Opener(cfg.Global.MetadataPath)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort

	go func() {
		<-ctx.Done()
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务关闭")
		if err := app.Shutdown(); err != nil {
			logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("shutdown_failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}
