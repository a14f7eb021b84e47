package main

import (
	"strings"
	"testing"

	"github.com/any-hub/spancache/internal/config"
	"github.com/any-hub/spancache/internal/logging"
	"github.com/any-hub/spancache/internal/manager"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("SPANCACHE_CONFIG", "/tmp/env.toml")

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

func TestRunCheckConfigSuccess(t *testing.T) {
	captureOutput(t)
	code := run(cliOptions{configPath: configFixture("valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errOut := captureOutput(t)
	code := run(cliOptions{configPath: configFixture("missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errOut.String(), "加载配置失败") {
		t.Fatalf("错误输出应说明配置加载失败，得到 %q", errOut.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := captureOutput(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "spancache") {
		t.Fatalf("version 输出应包含 spancache 标识")
	}
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	t.Setenv("SPANCACHE_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--check-config", "--version"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly || !opts.showVersion {
		t.Fatalf("默认值不符合预期: %+v", opts)
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestBuildMediaHandler(t *testing.T) {
	cfg, err := config.Load(configFixture("valid.toml"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	m, err := manager.New(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("创建 manager 失败: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	media, err := buildMediaHandler(cfg, m, logging.Discard())
	if err != nil || media == nil {
		t.Fatalf("配置了上游时应创建代理: %v", err)
	}

	cfg.Global.Upstream = ""
	media, err = buildMediaHandler(cfg, m, logging.Discard())
	if err != nil || media != nil {
		t.Fatalf("未配置上游时不应创建代理: %v %v", media, err)
	}
}
