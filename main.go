package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/webgate/webgate/internal/config"
	"github.com/webgate/webgate/internal/host"
	"github.com/webgate/webgate/internal/logging"
	"github.com/webgate/webgate/internal/version"
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

	// waitForShutdown 默认等待 SIGINT/SIGTERM，测试中可替换。
	waitForShutdown = func(app *fx.App) <-chan os.Signal { return app.Done() }
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
	defer logging.Close(logger)

	if opts.checkOnly {
		fields := serverFields(logging.BaseFields("check_config", opts.configPath), cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	fields := serverFields(logging.BaseFields("startup", opts.configPath), cfg)
	fields["version"] = version.Full()
	fields["mode"] = cfg.Global.Mode
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "服务运行失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 启动 fx 应用并阻塞到收到退出信号，随后按 ShutdownTimeout 优雅关闭。
func serve(cfg *config.Config, logger *logrus.Logger) error {
	app := host.New(cfg, logger)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	sig := <-waitForShutdown(app)
	logger.WithFields(logrus.Fields{"action": "shutdown", "signal": fmt.Sprint(sig)}).Info("开始关闭")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	return app.Stop(stopCtx)
}

func serverFields(fields logrus.Fields, cfg *config.Config) logrus.Fields {
	fields["type"] = cfg.Server.Type
	fields["host"] = cfg.Server.Host
	fields["port"] = cfg.Server.ApplicationPort()
	fields["health"] = cfg.Server.Health
	if cfg.Server.DedicatedHealth() {
		fields["health_port"] = cfg.Server.HealthServerPort
	}
	return fields
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("webgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 WEBGATE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("WEBGATE_CONFIG")
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
