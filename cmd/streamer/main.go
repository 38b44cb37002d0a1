// Package main 是行情流客户端的入口点。
// 通过 WebSocket 连接行情服务，支持在终端动态订阅/退订，
// 断线后按退避策略重连并重新订阅已确认的流。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-stream-client/internal/app"
	"market-stream-client/internal/command"
	"market-stream-client/internal/config"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/core/session"
	"market-stream-client/internal/core/tracker"
	"market-stream-client/internal/exchange/binance"
	"market-stream-client/internal/output/jsonl"
	"market-stream-client/internal/output/record"
	"market-stream-client/internal/output/redispub"
	"market-stream-client/internal/status"
	"market-stream-client/internal/util/timeutil"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径（不存在时使用默认配置）")
	flag.StringVar(&envPath, "env", ".env", "环境变量文件路径")
	flag.Parse()

	if err := config.LoadEnvFile(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("app", cfg.App.Name))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("收到退出信号", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("运行失败", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return config.Load(path)
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// sinks 事件与统计输出
type sinks struct {
	events    *jsonl.Writer
	stats     *jsonl.Writer
	publisher *redispub.Publisher
}

func openSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sinks, error) {
	s := &sinks{}
	var err error
	if cfg.Output.EventsEnabled {
		s.events, err = jsonl.NewWriter(filepath.Join(cfg.Output.Dir, "events.jsonl"), cfg.Output.BufferSize, logger)
		if err != nil {
			return nil, fmt.Errorf("创建 events writer 失败: %w", err)
		}
	}
	if cfg.Output.StatsEnabled {
		s.stats, err = jsonl.NewWriter(filepath.Join(cfg.Output.Dir, "stats.jsonl"), cfg.Output.BufferSize, logger)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("创建 stats writer 失败: %w", err), s.close())
		}
	}
	if cfg.Redis.Enabled {
		s.publisher, err = redispub.New(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, multierr.Append(err, s.close())
		}
	}
	return s, nil
}

// onEvent 在会话循环中调用，只做非阻塞投递
func (s *sinks) onEvent(ev model.Event) {
	now := time.Now()
	if s.events != nil {
		_ = s.events.Write(record.FromEvent(ev, now))
	}
	if s.publisher != nil {
		s.publisher.Publish(ev, now)
	}
}

func (s *sinks) close() error {
	var errs error
	if s.events != nil {
		errs = multierr.Append(errs, s.events.Close())
	}
	if s.stats != nil {
		errs = multierr.Append(errs, s.stats.Close())
	}
	if s.publisher != nil {
		errs = multierr.Append(errs, s.publisher.Close())
	}
	return errs
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sk, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sk.close(); err != nil {
			logger.Warn("关闭输出失败", zap.Error(err))
		}
	}()

	dialer := session.NewBinanceDialer(binance.NewDialer(&cfg.WS, logger))
	runner, err := app.NewRunner(cfg, dialer, sk.onEvent, logger)
	if err != nil {
		return err
	}

	if cfg.Status.Enabled {
		srv := status.NewServer(cfg.Status.Addr, runner.Status, logger)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("状态服务异常退出", zap.Error(err))
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	fmt.Fprintln(out, command.Usage)
	inputs := command.NewReader(in).Run(ctx)
	results := runner.Results()
	notices := make(chan string, 8)

	statsTicker := time.NewTicker(timeutil.Ms(cfg.Output.StatsIntervalMs))
	defer statsTicker.Stop()

	for {
		select {
		case err := <-runErr:
			return err

		case input, ok := <-inputs:
			if !ok {
				// 输入结束：按 quit 处理
				inputs = nil
				quitRunner(ctx, runner, logger)
				continue
			}
			if input.Err != nil {
				fmt.Fprintln(out, input.Err)
				continue
			}
			dispatch(ctx, runner, input.Command, out, notices, logger)

		case msg := <-notices:
			fmt.Fprintln(out, msg)

		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			printResult(out, res)

		case now := <-statsTicker.C:
			if sk.stats == nil {
				continue
			}
			if s := runner.Current(); s != nil {
				_ = sk.stats.Write(record.FromSnapshot(s.ID(), s.Stats(), len(s.Subscriptions()), s.Latency(), now))
			}
		}
	}
}

func quitRunner(ctx context.Context, runner *app.Runner, logger *zap.Logger) {
	quitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := runner.Quit(quitCtx); err != nil {
		logger.Warn("退出请求失败", zap.Error(err))
	}
}

// dispatch 执行用户命令；订阅类命令在独立协程中提交，避免限速等待阻塞界面。
// 只在主循环中调用，out 仅由主循环写入
func dispatch(ctx context.Context, runner *app.Runner, cmd command.Command, out io.Writer, notices chan<- string, logger *zap.Logger) {
	s := runner.Current()

	switch cmd.Kind {
	case command.KindHelp:
		fmt.Fprintln(out, command.Usage)
		return
	case command.KindQuit:
		go quitRunner(ctx, runner, logger)
		return
	case command.KindList:
		if s == nil {
			fmt.Fprintln(out, "暂无会话")
			return
		}
		topics := s.Subscriptions()
		fmt.Fprintf(out, "本地订阅 (%d): %s\n", len(topics), strings.Join(model.TopicStrings(topics), ", "))
		return
	}

	if s == nil || s.State() != session.StateActive {
		fmt.Fprintln(out, "会话未就绪，请稍后重试")
		return
	}

	go submit(ctx, s, cmd, notices, logger)
}

// commandTarget 是提交订阅类命令所需的会话能力
type commandTarget interface {
	Subscribe(ctx context.Context, topics ...model.Topic) (int64, error)
	Unsubscribe(ctx context.Context, topics ...model.Topic) (int64, error)
	ListServer(ctx context.Context) (int64, error)
}

// submit 提交订阅类命令；失败信息经 notices 交回主循环输出
func submit(ctx context.Context, t commandTarget, cmd command.Command, notices chan<- string, logger *zap.Logger) {
	var (
		id  int64
		err error
	)
	switch cmd.Kind {
	case command.KindAddSub:
		id, err = t.Subscribe(ctx, cmd.Topics...)
	case command.KindDelSub:
		id, err = t.Unsubscribe(ctx, cmd.Topics...)
	case command.KindListServer:
		id, err = t.ListServer(ctx)
	default:
		return
	}
	if err != nil {
		select {
		case notices <- fmt.Sprintf("%s 提交失败: %v", cmd.Kind, err):
		case <-ctx.Done():
		}
		return
	}
	logger.Debug("命令已提交", zap.Int64("id", id), zap.Stringer("kind", cmd.Kind))
}

func printResult(out io.Writer, res session.Result) {
	if !res.OK() {
		fmt.Fprintf(out, "[%d] %s 失败: %v\n", res.ID, res.Intent, res.Err)
		return
	}
	if res.Intent == tracker.IntentListSubscriptions {
		fmt.Fprintf(out, "[%d] 服务端订阅 (%d): %s\n", res.ID, len(res.Listing), strings.Join(res.Listing, ", "))
		return
	}
	fmt.Fprintf(out, "[%d] %s 成功: %s\n", res.ID, res.Intent, strings.Join(model.TopicStrings(res.Topics), ", "))
}
