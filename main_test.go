package main

import (
	"bytes"
	"net"
	"os"
	"strings"
	"testing"

	"go.uber.org/fx"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("WEBGATE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	t.Setenv("WEBGATE_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("默认配置路径应为 config.toml，得到 %+v", opts)
	}

	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "Server.httpsCert") {
		t.Fatalf("错误输出应指出字段，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "webgate") {
		t.Fatalf("version 输出应包含 webgate 标识")
	}
}

func TestRunStartsAndStops(t *testing.T) {
	useBufferWriters(t)
	stopImmediately(t)

	configPath := writeConfigFile(t, `
Mode = "production"
LogLevel = "warn"

[Server]
type = "http"
host = "127.0.0.1"
httpPort = 0
exclusive = true
health = true
`)
	if code := run(cliOptions{configPath: configPath}); code != 0 {
		t.Fatalf("正常启动并关闭应返回 0，得到 %d（stderr=%s）", code, stdErrBuffer().String())
	}
}

func TestRunFailsWhenPortBusy(t *testing.T) {
	useBufferWriters(t)
	stopImmediately(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer occupied.Close()

	configPath := writeConfigFile(t, `
LogLevel = "warn"

[Server]
type = "http"
host = "127.0.0.1"
exclusive = true
httpPort = `+portOf(occupied))
	if code := run(cliOptions{configPath: configPath}); code == 0 {
		t.Fatalf("端口被占用时应返回非零退出码")
	}
}

// stopImmediately 让 serve 在启动成功后立即进入关闭流程。
func stopImmediately(t *testing.T) {
	t.Helper()
	prev := waitForShutdown
	waitForShutdown = func(*fx.App) <-chan os.Signal {
		ch := make(chan os.Signal, 1)
		ch <- os.Interrupt
		return ch
	}
	t.Cleanup(func() { waitForShutdown = prev })
}

func portOf(ln net.Listener) string {
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	return port
}
