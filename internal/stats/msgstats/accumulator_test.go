package msgstats

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-stream-client/internal/core/model"
)

var kinds = []model.EventKind{model.KindTrade, model.KindAggTrade, model.KindTicker, model.KindKline}

// TestAccumulator_Monotonic 每次记录总数恰好加一，各类型计数之和等于总数
func TestAccumulator_Monotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	start := time.Unix(1700000000, 0)

	properties.Property("总数单调递增且等于各类型之和", prop.ForAll(
		func(tags []int, gapsMs []int) bool {
			a := New(start)
			at := start
			for i, tag := range tags {
				if i < len(gapsMs) {
					at = at.Add(time.Duration(gapsMs[i]) * time.Millisecond)
				}
				before := a.Snapshot().Total
				if tag == len(kinds) {
					a.RecordUnrecognized(at)
				} else {
					a.Record(model.Event{Kind: kinds[tag]}, at)
				}
				snap := a.Snapshot()
				if snap.Total != before+1 {
					return false
				}
				var sum int64
				for _, v := range snap.ByType {
					sum += v
				}
				if sum != snap.Total {
					return false
				}
			}
			return a.Snapshot().Total == int64(len(tags))
		},
		gen.SliceOf(gen.IntRange(0, len(kinds))),
		gen.SliceOf(gen.IntRange(0, 5000)),
	))

	properties.Property("平均间隔与算术平均一致", prop.ForAll(
		func(gapsMs []int) bool {
			a := New(start)
			at := start
			a.Record(model.Event{Kind: model.KindTrade}, at)
			var sum float64
			for _, g := range gapsMs {
				at = at.Add(time.Duration(g) * time.Millisecond)
				a.Record(model.Event{Kind: model.KindTrade}, at)
				sum += float64(g)
			}
			snap := a.Snapshot()
			if len(gapsMs) == 0 {
				return snap.MeanInterArrivalMs == 0
			}
			want := sum / float64(len(gapsMs))
			return math.Abs(snap.MeanInterArrivalMs-want) < 1e-6
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}

func TestAccumulator_InterArrival(t *testing.T) {
	start := time.Unix(1700000000, 0)
	a := New(start)
	for _, gap := range []int{0, 100, 300, 200} {
		start = start.Add(time.Duration(gap) * time.Millisecond)
		a.Record(model.Event{Kind: model.KindKline}, start)
	}

	snap := a.Snapshot()
	if snap.Total != 4 || snap.Count("kline") != 4 {
		t.Fatalf("snap=%+v", snap)
	}
	if snap.MeanInterArrivalMs != 200 {
		t.Errorf("mean=%f, want 200", snap.MeanInterArrivalMs)
	}
	if snap.StdDevInterArrivalMs != 100 {
		t.Errorf("stddev=%f, want 100", snap.StdDevInterArrivalMs)
	}
	if snap.MinInterArrivalMs != 100 || snap.MaxInterArrivalMs != 300 || snap.LastInterArrivalMs != 200 {
		t.Errorf("min/max/last=%f/%f/%f", snap.MinInterArrivalMs, snap.MaxInterArrivalMs, snap.LastInterArrivalMs)
	}
	if snap.MeanInterArrival() != 200*time.Millisecond {
		t.Errorf("MeanInterArrival()=%s", snap.MeanInterArrival())
	}
	if got := snap.Rate(snap.WindowStart.Add(2 * time.Second)); got != 2 {
		t.Errorf("Rate=%f, want 2", got)
	}
}

// TestAccumulator_UnrecognizedKeepsKnownCounts 无法识别的推送不影响已知类型计数
func TestAccumulator_UnrecognizedKeepsKnownCounts(t *testing.T) {
	now := time.Now()
	a := New(now)
	a.Record(model.Event{Kind: model.KindTrade}, now)
	a.RecordUnrecognized(now.Add(time.Millisecond))

	snap := a.Snapshot()
	if snap.Count("trade") != 1 || snap.Count(TagUnrecognized) != 1 || snap.Total != 2 {
		t.Fatalf("snap=%+v", snap)
	}
}

// TestAccumulator_SnapshotIsolation 已取得的快照不随后续记录变化
func TestAccumulator_SnapshotIsolation(t *testing.T) {
	now := time.Now()
	a := New(now)
	a.Record(model.Event{Kind: model.KindTrade}, now)
	old := a.Snapshot()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s := a.Snapshot()
			var sum int64
			for _, v := range s.ByType {
				sum += v
			}
			if sum != s.Total {
				t.Errorf("快照不一致: %+v", s)
				return
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		a.Record(model.Event{Kind: model.KindTicker}, now.Add(time.Duration(i)*time.Millisecond))
	}
	wg.Wait()

	if old.Total != 1 || old.Count("ticker") != 0 {
		t.Fatalf("旧快照被修改: %+v", old)
	}
}
