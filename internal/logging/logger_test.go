package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "offline-hub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offline-hub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestInitLoggerAddsServiceFields(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", CacheName: "blog"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("action", "cache_hit").Info("cache_hit")
	logger.WithField("cache_name", "override").Info("explicit")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("期望两行日志，得到 %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("日志不是 JSON: %v", err)
	}
	if first["service"] != ServiceName || first["cache_name"] != "blog" || first["action"] != "cache_hit" {
		t.Fatalf("缺少基础字段: %+v", first)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("日志不是 JSON: %v", err)
	}
	if second["cache_name"] != "override" {
		t.Fatalf("显式字段不应被覆盖: %+v", second)
	}
}

func TestRequestFieldsCarryRoute(t *testing.T) {
	fields := RequestFields("req-1", "https://blog.example.com/", "default")
	if fields["request_id"] != "req-1" || fields["route"] != "default" {
		t.Fatalf("字段不完整: %+v", fields)
	}
	strategy := StrategyFields("background_refresh_failed", "cache_first", "https://blog.example.com/")
	if strategy["action"] != "background_refresh_failed" || strategy["strategy"] != "cache_first" {
		t.Fatalf("策略字段不完整: %+v", strategy)
	}
}
