// Package backoff 退避算法测试
package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBackoff_Bounds 测试退避时间单调不减且不超过上限
func TestBackoff_Bounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("无抖动时单调不减且封顶", prop.ForAll(
		func(baseMs int, maxMs int, rounds int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0)

			prev := time.Duration(0)
			for i := 0; i < rounds; i++ {
				delay := b.Next()
				if delay < prev || delay > b.max || delay < base {
					return false
				}
				prev = delay
			}
			return b.Attempt() == rounds
		},
		gen.IntRange(100, 5000),
		gen.IntRange(1, 60000),
		gen.IntRange(1, 80),
	))

	properties.Property("抖动后不超出 ±jitter", prop.ForAll(
		func(jitterPercent int, rounds int) bool {
			jitter := float64(jitterPercent) / 100.0
			b := New(DefaultBase, DefaultMax, jitter)
			for i := 0; i < rounds; i++ {
				delay := float64(b.Next())
				if delay > float64(DefaultMax)*(1+jitter) || delay < float64(DefaultBase)*(1-jitter) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// TestBackoff_SpecificValues 默认配置的增长序列
func TestBackoff_SpecificValues(t *testing.T) {
	b := New(DefaultBase, DefaultMax, 0)
	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		30 * time.Second, // 48s 封顶为 30s
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("第 %d 次: got %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if b.Attempt() != 0 || b.Next() != DefaultBase {
		t.Error("Reset 后应从首次等待开始")
	}
}

func TestBackoff_ClampsArguments(t *testing.T) {
	b := New(5*time.Second, time.Second, 3)
	if b.max != 5*time.Second || b.jitter != 1 {
		t.Fatalf("max=%v jitter=%v", b.max, b.jitter)
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := New(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	delay, err := b.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if delay != time.Hour || time.Since(start) > time.Second {
		t.Fatalf("delay=%v elapsed=%v", delay, time.Since(start))
	}
}

func TestBackoff_WaitElapses(t *testing.T) {
	b := New(10*time.Millisecond, 10*time.Millisecond, 0)
	if _, err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if b.Attempt() != 1 {
		t.Fatalf("Attempt()=%d", b.Attempt())
	}
}
