// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// clearEnv 屏蔽宿主环境变量对测试的影响
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STREAM_URL", "STREAM_MODE", "STREAM_SYMBOL", "STREAM_TESTNET",
		"LOG_LEVEL", "STATUS_ADDR", "REDIS_ADDR", "REDIS_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

// TestConfigValidation_SessionParams 测试会话参数验证
// 属性: 超时、间隔、速率必须为正数
func TestConfigValidation_SessionParams(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("命令超时非正数应验证失败", prop.ForAll(
		func(v int) bool {
			cfg := createValidConfig()
			cfg.Session.RequestTimeoutMs = v
			return cfg.Validate() != nil
		},
		gen.IntRange(-10000, 0),
	))

	properties.Property("心跳间隔非正数应验证失败", prop.ForAll(
		func(v int) bool {
			cfg := createValidConfig()
			cfg.Session.PongIntervalMs = v
			return cfg.Validate() != nil
		},
		gen.IntRange(-10000, 0),
	))

	properties.Property("命令速率非正数应验证失败", prop.ForAll(
		func(v float64) bool {
			cfg := createValidConfig()
			cfg.Session.CommandRatePerSec = v
			return cfg.Validate() != nil
		},
		gen.Float64Range(-100, 0),
	))

	properties.Property("正数参数应通过验证", prop.ForAll(
		func(timeout, sweep, pong int, rate float64) bool {
			cfg := createValidConfig()
			cfg.Session.RequestTimeoutMs = timeout
			cfg.Session.SweepIntervalMs = sweep
			cfg.Session.PongIntervalMs = pong
			cfg.Session.CommandRatePerSec = rate
			return cfg.Validate() == nil
		},
		gen.IntRange(1, 600000),
		gen.IntRange(1, 60000),
		gen.IntRange(1, 600000),
		gen.Float64Range(0.001, 100),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Reconnect 测试重连参数验证
func TestConfigValidation_Reconnect(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("最大等待小于首次等待应验证失败", prop.ForAll(
		func(delay, gap int) bool {
			cfg := createValidConfig()
			cfg.Reconnect.DelayMs = delay
			cfg.Reconnect.MaxDelayMs = delay - gap
			return cfg.Validate() != nil
		},
		gen.IntRange(2, 100000),
		gen.IntRange(1, 1),
	))

	properties.TestingRun(t)
}

func TestConfigValidation_Stream(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "有效配置", mutate: func(c *Config) {}},
		{
			name:    "未知模式",
			mutate:  func(c *Config) { c.Stream.Mode = "multi" },
			wantErr: "stream.mode",
		},
		{
			name:    "fixed 模式缺少交易对",
			mutate:  func(c *Config) { c.Stream.Mode = ModeFixed; c.Stream.Symbol = " " },
			wantErr: "stream.symbol",
		},
		{
			name:    "流名称缺少 @",
			mutate:  func(c *Config) { c.Stream.Topics = []string{"btcusdt"} },
			wantErr: "stream.topics[0]",
		},
		{
			name:    "流名称缺少流类型",
			mutate:  func(c *Config) { c.Stream.Topics = []string{"btcusdt@trade", "btcusdt@"} },
			wantErr: "stream.topics[1]",
		},
		{
			name:    "非 ws 地址",
			mutate:  func(c *Config) { c.Stream.URL = "https://stream.binance.com" },
			wantErr: "stream.url",
		},
		{
			name:    "启用 redis 但库编号为负",
			mutate:  func(c *Config) { c.Redis.Enabled = true; c.Redis.DB = -1 },
			wantErr: "redis.db",
		},
		{
			name:    "无效日志级别",
			mutate:  func(c *Config) { c.App.LogLevel = "trace" },
			wantErr: "app.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want 包含 %q", err, tt.wantErr)
			}
		})
	}
}

// TestConfigValidation_CollectsAll 所有错误应一次性汇总
func TestConfigValidation_CollectsAll(t *testing.T) {
	cfg := createValidConfig()
	cfg.WS.WriteTimeoutMs = 0
	cfg.Session.CommandBurst = 0
	cfg.Output.BufferSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("应返回错误")
	}
	for _, field := range []string{"ws.write_timeout_ms", "session.command_burst", "output.buffer_size"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("错误信息缺少 %s: %v", field, err)
		}
	}
}

// createValidConfig 创建一个有效的配置用于测试
func createValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test",
			LogLevel: "info",
		},
		Stream: StreamConfig{
			Mode:   ModeDynamic,
			Topics: []string{"btcusdt@trade"},
		},
		WS: WSConfig{
			HandshakeTimeoutMs: 10000,
			ReadTimeoutMs:      60000,
			WriteTimeoutMs:     5000,
			CloseTimeoutMs:     3000,
			InboundBuffer:      1024,
		},
		Session: SessionConfig{
			RequestTimeoutMs:           5000,
			SweepIntervalMs:            1000,
			PongIntervalMs:             30000,
			StatsIntervalMs:            5000,
			CommandRatePerSec:          5,
			CommandBurst:               5,
			MaxConsecutiveDecodeErrors: 100,
		},
		Reconnect: ReconnectConfig{
			Enabled:    true,
			DelayMs:    3000,
			MaxDelayMs: 30000,
		},
		Status: StatusConfig{Addr: "127.0.0.1:8080"},
		Output: OutputConfig{
			Dir:             "./output",
			StatsIntervalMs: 10000,
			BufferSize:      1000,
		},
		Redis: RedisConfig{
			Addr:          "127.0.0.1:6379",
			ChannelPrefix: "market:",
			BufferSize:    1000,
		},
	}
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t)

	content := `
app:
  name: test-streamer
  log_level: debug

stream:
  mode: dynamic
  testnet: true
  topics:
    - btcusdt@trade
    - ethusdt@kline_1m

session:
  request_timeout_ms: 2000
  pong_interval_ms: 180000

reconnect:
  enabled: true
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-streamer" {
		t.Errorf("App.Name = %s, want test-streamer", cfg.App.Name)
	}
	if len(cfg.Stream.Topics) != 2 {
		t.Errorf("len(Stream.Topics) = %d, want 2", len(cfg.Stream.Topics))
	}
	if cfg.Session.RequestTimeoutMs != 2000 || cfg.Session.PongIntervalMs != 180000 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	// 未配置项取默认值
	if cfg.Session.SweepIntervalMs != 1000 || cfg.Reconnect.DelayMs != 3000 || cfg.WS.CloseTimeoutMs != 3000 {
		t.Errorf("默认值未生效: session=%+v reconnect=%+v ws=%+v", cfg.Session, cfg.Reconnect, cfg.WS)
	}
	if got := cfg.Stream.BaseURL(); got != TestnetURL {
		t.Errorf("BaseURL() = %s, want %s", got, TestnetURL)
	}
}

// TestLoad_InvalidFile 测试加载无效文件
func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	_, err := Load(tmpFile)
	if err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}

func TestDefault_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_MODE", "FIXED")
	t.Setenv("STREAM_SYMBOL", "ethusdt")
	t.Setenv("STREAM_TESTNET", "true")
	t.Setenv("STATUS_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if cfg.Stream.Mode != ModeFixed || cfg.Stream.Symbol != "ethusdt" || !cfg.Stream.Testnet {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if !cfg.Status.Enabled || cfg.Status.Addr != ":9090" {
		t.Errorf("Status = %+v", cfg.Status)
	}
	if cfg.App.LogLevel != "warn" {
		t.Errorf("LogLevel = %s", cfg.App.LogLevel)
	}

	t.Setenv("STREAM_TESTNET", "maybe")
	if _, err := Default(); err == nil {
		t.Error("无效的 STREAM_TESTNET 应返回错误")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("STREAM_SYMBOL")
	os.Unsetenv("REDIS_ADDR")

	tmpFile := filepath.Join(t.TempDir(), ".env")
	content := "STREAM_SYMBOL=solusdt\nREDIS_ADDR=10.0.0.1:6379\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	if err := LoadEnvFile(tmpFile); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if cfg.Stream.Symbol != "solusdt" {
		t.Errorf("Symbol = %s, want solusdt", cfg.Stream.Symbol)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "10.0.0.1:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}

	// 文件不存在时忽略
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("不存在的文件应忽略: %v", err)
	}
}
