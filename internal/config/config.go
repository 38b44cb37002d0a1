// Package config 负责加载和验证 YAML 配置文件。
// 提供行情流客户端所需的所有配置项，包括连接、会话、重连、状态查询与输出。
// 加载顺序: YAML 文件 → 默认值 → .env / 环境变量覆盖 → 验证。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ModeDynamic 单连接 + 运行时订阅管理
	ModeDynamic = "dynamic"
	// ModeFixed 直连单流地址，不支持命令
	ModeFixed = "fixed"

	// MainnetURL 主网行情流地址
	MainnetURL = "wss://stream.binance.com:9443/ws"
	// TestnetURL 测试网行情流地址
	TestnetURL = "wss://testnet.binance.vision/ws"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Stream 行情流配置
	Stream StreamConfig `yaml:"stream"`
	// WS WebSocket 连接配置
	WS WSConfig `yaml:"ws"`
	// Session 会话参数
	Session SessionConfig `yaml:"session"`
	// Reconnect 断线重连配置
	Reconnect ReconnectConfig `yaml:"reconnect"`
	// Status 状态查询服务配置
	Status StatusConfig `yaml:"status"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Redis 事件发布配置
	Redis RedisConfig `yaml:"redis"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// StreamConfig 行情流配置
type StreamConfig struct {
	// Mode 运行模式: dynamic, fixed
	Mode string `yaml:"mode"`
	// Testnet 是否使用测试网
	Testnet bool `yaml:"testnet"`
	// URL 连接地址，为空时按 Testnet 选择主网或测试网
	URL string `yaml:"url"`
	// Symbol fixed 模式的交易对，如 btcusdt
	Symbol string `yaml:"symbol"`
	// Topics dynamic 模式启动时订阅的流名称，如 btcusdt@trade
	Topics []string `yaml:"topics"`
}

// WSConfig WebSocket 连接配置
type WSConfig struct {
	// HandshakeTimeoutMs 握手超时（毫秒）
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒），每收到一帧刷新
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// WriteTimeoutMs 写入超时（毫秒）
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	// CloseTimeoutMs 关闭握手等待时间（毫秒）
	CloseTimeoutMs int `yaml:"close_timeout_ms"`
	// InboundBuffer 入站消息缓冲大小
	InboundBuffer int `yaml:"inbound_buffer"`
}

// SessionConfig 会话参数
type SessionConfig struct {
	// RequestTimeoutMs 命令响应超时（毫秒）
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
	// SweepIntervalMs 超时扫描间隔（毫秒）
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	// PongIntervalMs 主动 pong 间隔（毫秒）
	PongIntervalMs int `yaml:"pong_interval_ms"`
	// StatsIntervalMs 统计日志间隔（毫秒）
	StatsIntervalMs int `yaml:"stats_interval_ms"`
	// CommandRatePerSec 命令发送速率上限（每秒）
	CommandRatePerSec float64 `yaml:"command_rate_per_sec"`
	// CommandBurst 命令突发上限
	CommandBurst int `yaml:"command_burst"`
	// MaxConsecutiveDecodeErrors 连续解码失败上限，超过后关闭会话
	MaxConsecutiveDecodeErrors int `yaml:"max_consecutive_decode_errors"`
}

// ReconnectConfig 断线重连配置
type ReconnectConfig struct {
	// Enabled 是否启用重连
	Enabled bool `yaml:"enabled"`
	// DelayMs 首次重连等待（毫秒）
	DelayMs int `yaml:"delay_ms"`
	// MaxDelayMs 最大重连等待（毫秒）
	MaxDelayMs int `yaml:"max_delay_ms"`
}

// StatusConfig 状态查询服务配置
type StatusConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Addr 监听地址，如 127.0.0.1:8080
	Addr string `yaml:"addr"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// EventsEnabled 是否输出事件文件
	EventsEnabled bool `yaml:"events_enabled"`
	// StatsEnabled 是否输出统计文件
	StatsEnabled bool `yaml:"stats_enabled"`
	// StatsIntervalMs 统计输出间隔（毫秒）
	StatsIntervalMs int `yaml:"stats_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// RedisConfig 事件发布配置
type RedisConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Addr Redis 地址
	Addr string `yaml:"addr"`
	// Password 密码
	Password string `yaml:"password"`
	// DB 库编号
	DB int `yaml:"db"`
	// ChannelPrefix 频道前缀，频道名为 <prefix><symbol>@<kind>
	ChannelPrefix string `yaml:"channel_prefix"`
	// BufferSize 发布队列大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return finish(&cfg)
}

// Default 返回仅含默认值的配置（未提供配置文件时使用）
// 同样应用环境变量覆盖并验证
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.setDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile 加载 .env 文件到进程环境变量
// 已存在的环境变量不会被覆盖；文件不存在时忽略
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载 env 文件失败: %w", err)
	}
	return nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "market-stream-client"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Stream.Mode == "" {
		c.Stream.Mode = ModeDynamic
	}

	if c.WS.HandshakeTimeoutMs == 0 {
		c.WS.HandshakeTimeoutMs = 10000 // 10 秒
	}
	if c.WS.ReadTimeoutMs == 0 {
		c.WS.ReadTimeoutMs = 60000 // 60 秒，服务端约每 20 秒 ping 一次
	}
	if c.WS.WriteTimeoutMs == 0 {
		c.WS.WriteTimeoutMs = 5000 // 5 秒
	}
	if c.WS.CloseTimeoutMs == 0 {
		c.WS.CloseTimeoutMs = 3000 // 3 秒
	}
	if c.WS.InboundBuffer == 0 {
		c.WS.InboundBuffer = 1024
	}

	if c.Session.RequestTimeoutMs == 0 {
		c.Session.RequestTimeoutMs = 5000 // 5 秒
	}
	if c.Session.SweepIntervalMs == 0 {
		c.Session.SweepIntervalMs = 1000 // 1 秒
	}
	if c.Session.PongIntervalMs == 0 {
		c.Session.PongIntervalMs = 30000 // 30 秒
	}
	if c.Session.StatsIntervalMs == 0 {
		c.Session.StatsIntervalMs = 5000 // 5 秒
	}
	if c.Session.CommandRatePerSec == 0 {
		c.Session.CommandRatePerSec = 5 // 服务端限制每秒 5 条入站消息
	}
	if c.Session.CommandBurst == 0 {
		c.Session.CommandBurst = 5
	}
	if c.Session.MaxConsecutiveDecodeErrors == 0 {
		c.Session.MaxConsecutiveDecodeErrors = 100
	}

	if c.Reconnect.DelayMs == 0 {
		c.Reconnect.DelayMs = 3000 // 3 秒
	}
	if c.Reconnect.MaxDelayMs == 0 {
		c.Reconnect.MaxDelayMs = 30000 // 30 秒
	}

	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:8080"
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.StatsIntervalMs == 0 {
		c.Output.StatsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "market:"
	}
	if c.Redis.BufferSize == 0 {
		c.Redis.BufferSize = 1000
	}
}

// applyEnv 使用环境变量覆盖配置
func (c *Config) applyEnv() error {
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("STREAM_MODE"); v != "" {
		c.Stream.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("STREAM_SYMBOL"); v != "" {
		c.Stream.Symbol = v
	}
	if v := os.Getenv("STREAM_TESTNET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STREAM_TESTNET: 无效的布尔值 '%s'", v)
		}
		c.Stream.Testnet = b
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		c.Status.Addr = v
		c.Status.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	return nil
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	switch c.Stream.Mode {
	case ModeDynamic:
	case ModeFixed:
		if strings.TrimSpace(c.Stream.Symbol) == "" {
			errs = append(errs, "stream.symbol: fixed 模式必须配置交易对")
		}
	default:
		errs = append(errs, fmt.Sprintf("stream.mode: 无效的模式 '%s'，有效值: dynamic, fixed", c.Stream.Mode))
	}
	for i, topic := range c.Stream.Topics {
		symbol, stream, ok := strings.Cut(strings.TrimSpace(topic), "@")
		if !ok || symbol == "" || stream == "" || strings.ContainsAny(topic, " \t") {
			errs = append(errs, fmt.Sprintf("stream.topics[%d]: 无效的流名称 '%s'", i, topic))
		}
	}
	if c.Stream.URL != "" && !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("stream.url: 必须以 ws:// 或 wss:// 开头，当前值: %s", c.Stream.URL))
	}

	if c.WS.HandshakeTimeoutMs <= 0 {
		errs = append(errs, "ws.handshake_timeout_ms: 握手超时必须为正数")
	}
	if c.WS.ReadTimeoutMs < 0 {
		errs = append(errs, "ws.read_timeout_ms: 读取超时不能为负数")
	}
	if c.WS.WriteTimeoutMs <= 0 {
		errs = append(errs, "ws.write_timeout_ms: 写入超时必须为正数")
	}
	if c.WS.CloseTimeoutMs <= 0 {
		errs = append(errs, "ws.close_timeout_ms: 关闭超时必须为正数")
	}
	if c.WS.InboundBuffer <= 0 {
		errs = append(errs, "ws.inbound_buffer: 缓冲大小必须为正数")
	}

	if c.Session.RequestTimeoutMs <= 0 {
		errs = append(errs, "session.request_timeout_ms: 命令超时必须为正数")
	}
	if c.Session.SweepIntervalMs <= 0 {
		errs = append(errs, "session.sweep_interval_ms: 扫描间隔必须为正数")
	}
	if c.Session.PongIntervalMs <= 0 {
		errs = append(errs, "session.pong_interval_ms: 心跳间隔必须为正数")
	}
	if c.Session.StatsIntervalMs <= 0 {
		errs = append(errs, "session.stats_interval_ms: 统计间隔必须为正数")
	}
	if c.Session.CommandRatePerSec <= 0 {
		errs = append(errs, "session.command_rate_per_sec: 命令速率必须为正数")
	}
	if c.Session.CommandBurst <= 0 {
		errs = append(errs, "session.command_burst: 突发上限必须为正数")
	}
	if c.Session.MaxConsecutiveDecodeErrors <= 0 {
		errs = append(errs, "session.max_consecutive_decode_errors: 必须为正数")
	}

	if c.Reconnect.DelayMs <= 0 {
		errs = append(errs, "reconnect.delay_ms: 重连等待必须为正数")
	}
	if c.Reconnect.MaxDelayMs < c.Reconnect.DelayMs {
		errs = append(errs, "reconnect.max_delay_ms: 不能小于 delay_ms")
	}

	if c.Status.Enabled && c.Status.Addr == "" {
		errs = append(errs, "status.addr: 启用状态服务时监听地址不能为空")
	}

	if c.Output.StatsIntervalMs <= 0 {
		errs = append(errs, "output.stats_interval_ms: 统计输出间隔必须为正数")
	}
	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr: 启用发布时地址不能为空")
		}
		if c.Redis.DB < 0 {
			errs = append(errs, "redis.db: 库编号不能为负数")
		}
		if c.Redis.BufferSize <= 0 {
			errs = append(errs, "redis.buffer_size: 队列大小必须为正数")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// BaseURL 返回连接基础地址
// 显式配置的 URL 优先，否则按 Testnet 选择
func (c *StreamConfig) BaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Testnet {
		return TestnetURL
	}
	return MainnetURL
}
