package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"market-stream-client/internal/core/model"
)

type published struct {
	channel string
	payload []byte
}

type fakeClient struct {
	mu     sync.Mutex
	msgs   []published
	err    error
	block  chan struct{}
	closed bool
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.msgs = append(f.msgs, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func tradeEvent(symbol string) model.Event {
	return model.NewTradeEvent(symbol, time.UnixMilli(1700000000000), model.Trade{
		TradeID:  1,
		Price:    decimal.RequireFromString("42000.5"),
		Quantity: decimal.RequireFromString("0.01"),
	})
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		prefix string
		symbol string
		kind   model.EventKind
		want   string
	}{
		{"market:", "BTCUSDT", model.KindTrade, "market:btcusdt@trade"},
		{"", "ETHUSDT", model.KindAggTrade, "ethusdt@aggTrade"},
		{"m.", "BNBUSDT", model.KindKline, "m.bnbusdt@kline"},
	}
	for _, tt := range tests {
		if got := ChannelName(tt.prefix, tt.symbol, tt.kind); got != tt.want {
			t.Errorf("ChannelName(%q,%q,%q)=%q, want %q", tt.prefix, tt.symbol, tt.kind, got, tt.want)
		}
	}
}

func TestPublisher_PublishAndClose(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "market:", 10, nil)

	if !p.Publish(tradeEvent("BTCUSDT"), time.UnixMilli(1700000000010)) {
		t.Fatal("Publish 应入队")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if p.Publish(tradeEvent("BTCUSDT"), time.Now()) {
		t.Fatal("关闭后不应入队")
	}

	if !client.closed {
		t.Fatal("客户端未关闭")
	}
	if len(client.msgs) != 1 || client.msgs[0].channel != "market:btcusdt@trade" {
		t.Fatalf("msgs=%+v", client.msgs)
	}
	var m map[string]any
	if err := json.Unmarshal(client.msgs[0].payload, &m); err != nil {
		t.Fatalf("payload 不是 JSON: %v", err)
	}
	if m["price"] != "42000.5" || m["recv_time_ms"] != float64(1700000000010) {
		t.Fatalf("payload=%s", client.msgs[0].payload)
	}
	if c := p.Counters(); c.Published != 1 || c.Dropped != 0 {
		t.Fatalf("counters=%+v", c)
	}
}

func TestPublisher_DropWhenFull(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	p := NewWithClient(client, "", 1, nil)

	// 后台协程最多取走一条并阻塞，队列容量 1，其余必然丢弃
	accepted := 0
	for i := 0; i < 5; i++ {
		if p.Publish(tradeEvent("BTCUSDT"), time.Now()) {
			accepted++
		}
	}
	if accepted > 2 || accepted < 1 {
		t.Fatalf("accepted=%d", accepted)
	}
	if c := p.Counters(); c.Dropped != int64(5-accepted) {
		t.Fatalf("counters=%+v, accepted=%d", c, accepted)
	}

	close(client.block)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c := p.Counters(); c.Published != int64(accepted) {
		t.Fatalf("counters=%+v, accepted=%d", c, accepted)
	}
}

func TestPublisher_FailureCounted(t *testing.T) {
	client := &fakeClient{err: errors.New("down")}
	p := NewWithClient(client, "", 10, nil)
	p.Publish(tradeEvent("BTCUSDT"), time.Now())
	p.Publish(tradeEvent("ETHUSDT"), time.Now())
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c := p.Counters(); c.Failed != 2 || c.Published != 0 {
		t.Fatalf("counters=%+v", c)
	}
}
