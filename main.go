package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/any-hub/spancache/internal/bridge"
	"github.com/any-hub/spancache/internal/cachekey"
	"github.com/any-hub/spancache/internal/config"
	"github.com/any-hub/spancache/internal/logging"
	"github.com/any-hub/spancache/internal/manager"
	"github.com/any-hub/spancache/internal/proxy"
	"github.com/any-hub/spancache/internal/server"
	"github.com/any-hub/spancache/internal/server/routes"
	"github.com/any-hub/spancache/internal/version"
)

// configEnv 允许通过环境变量指定配置文件路径。
const configEnv = "SPANCACHE_CONFIG"

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

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for key, value := range logging.CacheFields(cfg.Global.CacheRoot, cfg.Global.CacheMaxSize) {
			fields[key] = value
		}
		fields["media_enabled"] = cfg.Global.MediaEnabled()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 缓存 Manager → 媒体代理 → Fiber server”顺序，
	// 保证 bridge、代理与统计共享同一个缓存实例。
	cacheManager, err := manager.New(cfg.Global.CacheRoot, logger,
		manager.WithFlushInterval(cfg.Global.IndexFlushInterval.DurationValue()),
		manager.WithIndexCompression(cfg.Global.IndexCompression),
	)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存管理器失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := cacheManager.Close(); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("缓存释放失败")
		}
	}()

	if _, err := cacheManager.Initialize(cfg.Global.CacheChildFolder, cfg.Global.CacheMaxSize); err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	media, err := buildMediaHandler(cfg, cacheManager, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建媒体代理失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_folder"] = cacheManager.Folder()
	fields["media_enabled"] = media != nil
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	module := bridge.NewModule(cacheManager, logger)
	if err := startHTTPServer(cfg, media, module, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("spancache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
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

// buildMediaHandler 在配置了上游时创建读穿代理，否则返回 nil。
func buildMediaHandler(cfg *config.Config, m *manager.Manager, logger *logrus.Logger) (server.MediaHandler, error) {
	if !cfg.Global.MediaEnabled() {
		return nil, nil
	}
	upstream, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		return nil, err
	}
	factory, ok := cachekey.Resolve(cfg.Global.CacheKeyFactory)
	if !ok {
		return nil, fmt.Errorf("unknown cache key factory: %s", cfg.Global.CacheKeyFactory)
	}
	handler, err := proxy.NewHandler(server.NewUpstreamClient(cfg), logger, m, proxy.Options{
		Upstream:   upstream,
		KeyFactory: factory,
		RateLimit:  cfg.Global.UpstreamRateLimit,
	})
	if err != nil {
		return nil, err
	}
	return handler, nil
}

func startHTTPServer(cfg *config.Config, media server.MediaHandler, module *bridge.Module, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Media:      media,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, module)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，停止 Fiber 服务")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
