// Package main 直连单流模式入口。
// 连接 <base>/<symbol>@trade 这类直连地址，不发送任何订阅命令，
// 将收到的行情逐条打印到标准输出。
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-stream-client/internal/app"
	"market-stream-client/internal/config"
	"market-stream-client/internal/core/model"
	"market-stream-client/internal/core/session"
	"market-stream-client/internal/exchange/binance"
)

// printBuffer 待打印事件缓冲，满时丢弃
const printBuffer = 4096

func main() {
	var (
		symbol  string
		stream  string
		testnet bool
		url     string
	)
	flag.StringVar(&symbol, "symbol", "btcusdt", "交易对")
	flag.StringVar(&stream, "stream", "trade", "流类型，如 trade、aggTrade、kline_1m、bookTicker")
	flag.BoolVar(&testnet, "testnet", false, "使用测试网")
	flag.StringVar(&url, "url", "", "基础地址，覆盖主网/测试网选择")
	flag.Parse()

	cfg, err := config.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Stream.Mode = config.ModeFixed
	cfg.Stream.Symbol = symbol
	cfg.Stream.Topics = []string{strings.ToLower(symbol) + "@" + stream}
	cfg.Stream.Testnet = testnet
	if url != "" {
		cfg.Stream.URL = url
	}
	cfg.Reconnect.Enabled = true
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("收到退出信号", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Error("运行失败", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
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

func run(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) error {
	events := make(chan model.Event, printBuffer)
	var dropped int64
	onEvent := func(ev model.Event) {
		select {
		case events <- ev:
		default:
			dropped++
			if dropped == 1 || dropped%1000 == 0 {
				logger.Warn("打印缓冲已满，丢弃事件", zap.Int64("dropped", dropped))
			}
		}
	}

	dialer := session.NewBinanceDialer(binance.NewDialer(&cfg.WS, logger))
	runner, err := app.NewRunner(cfg, dialer, onEvent, logger)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for {
		select {
		case err := <-done:
			return err
		case ev := <-events:
			fmt.Fprintln(out, formatEvent(ev))
		}
	}
}

// formatEvent 单行文本格式
func formatEvent(ev model.Event) string {
	switch {
	case ev.Trade != nil:
		side := "buy"
		if ev.Trade.BuyerIsMaker {
			side = "sell"
		}
		return fmt.Sprintf("%s trade #%d %s %s@%s", ev.Symbol, ev.Trade.TradeID, side, ev.Trade.Quantity, ev.Trade.Price)
	case ev.AggTrade != nil:
		return fmt.Sprintf("%s aggTrade #%d %s@%s", ev.Symbol, ev.AggTrade.AggTradeID, ev.AggTrade.Quantity, ev.AggTrade.Price)
	case ev.Ticker != nil:
		t := ev.Ticker
		return fmt.Sprintf("%s ticker bid %s(%s) ask %s(%s) last %s", ev.Symbol, t.BestBid, t.BestBidQty, t.BestAsk, t.BestAskQty, t.LastPrice)
	case ev.Kline != nil:
		k := ev.Kline
		return fmt.Sprintf("%s kline %s O %s H %s L %s C %s V %s closed=%v", ev.Symbol, k.Interval, k.Open, k.High, k.Low, k.Close, k.Volume, k.Closed)
	}
	return fmt.Sprintf("%s %s", ev.Symbol, ev.Kind)
}
