// Package tracker 在途请求追踪器测试
package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-stream-client/internal/core/model"
)

// TestTracker_UniqueIDs 同时在途的请求关联 ID 两两不同
func TestTracker_UniqueIDs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("在途 ID 唯一且单调递增", prop.ForAll(
		func(actions []int) bool {
			tr := New(time.Second, nil)
			now := time.Unix(1700000000, 0)
			var last int64
			inFlight := make(map[int64]bool)

			for _, a := range actions {
				switch {
				case a < 7:
					id, err := tr.Register(Intent(a%3+1), nil, now)
					if err != nil || id <= last || inFlight[id] {
						return false
					}
					last = id
					inFlight[id] = true
				default:
					// 消解最早的在途请求
					for id := range inFlight {
						if _, ok := tr.Resolve(id); !ok {
							return false
						}
						delete(inFlight, id)
						break
					}
				}
				if tr.Len() != len(inFlight) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(50, gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}

func TestTracker_InsertCollisionIsProtocolViolation(t *testing.T) {
	tr := New(time.Second, nil)
	now := time.Now()

	if err := tr.Insert(&Pending{ID: 7, Intent: IntentSubscribe, IssuedAt: now}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := tr.Insert(&Pending{ID: 7, Intent: IntentUnsubscribe, IssuedAt: now})

	var pv *model.ProtocolViolation
	if !errors.As(err, &pv) || pv.ID != 7 {
		t.Fatalf("err=%v, want ProtocolViolation id=7", err)
	}

	p, ok := tr.Resolve(7)
	if !ok || p.Intent != IntentSubscribe {
		t.Fatalf("原条目不应被覆盖: %+v", p)
	}

	// Insert 之后 Register 不应再分配已用过的 ID
	id, err := tr.Register(IntentSubscribe, nil, now)
	if err != nil || id != 8 {
		t.Fatalf("Register id=%d err=%v, want 8", id, err)
	}
}

func TestTracker_ResolveUnknownIsIgnored(t *testing.T) {
	tr := New(time.Second, nil)
	if _, ok := tr.Resolve(42); ok {
		t.Fatalf("未知 ID 不应被消解")
	}
}

func TestTracker_Sweep(t *testing.T) {
	tr := New(3*time.Second, nil)
	t0 := time.Unix(1700000000, 0)

	id1, _ := tr.Register(IntentSubscribe, []model.Topic{"btcusdt@trade"}, t0)
	id2, _ := tr.Register(IntentListSubscriptions, nil, t0.Add(2*time.Second))

	if got := tr.Sweep(t0.Add(2 * time.Second)); len(got) != 0 {
		t.Fatalf("未到期不应清扫: %v", got)
	}

	expired := tr.Sweep(t0.Add(3 * time.Second))
	if len(expired) != 1 || expired[0].ID != id1 {
		t.Fatalf("expired=%v, want id=%d", expired, id1)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len=%d, want 1", tr.Len())
	}

	terr := TimeoutError(expired[0], t0.Add(3*time.Second))
	if terr.ID != id1 || terr.Intent != "SUBSCRIBE" || terr.Elapsed != 3*time.Second {
		t.Fatalf("TimeoutError=%+v", terr)
	}

	expired = tr.Sweep(t0.Add(10 * time.Second))
	if len(expired) != 1 || expired[0].ID != id2 {
		t.Fatalf("expired=%v, want id=%d", expired, id2)
	}
	if _, ok := tr.Resolve(id2); ok {
		t.Fatalf("已清扫的请求不应再被消解")
	}
}

func TestTracker_DrainOrdered(t *testing.T) {
	tr := New(time.Second, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, _ = tr.Register(IntentSubscribe, nil, now)
	}

	drained := tr.Drain()
	if len(drained) != 5 || tr.Len() != 0 {
		t.Fatalf("drained=%d len=%d", len(drained), tr.Len())
	}
	for i, p := range drained {
		if p.ID != int64(i+1) {
			t.Fatalf("drained[%d].ID=%d", i, p.ID)
		}
	}
}

func TestTracker_RegisterCollidingIDSource(t *testing.T) {
	tr := NewWithIDSource(time.Second, func() int64 { return 3 }, nil)
	now := time.Now()

	id, err := tr.Register(IntentSubscribe, []model.Topic{"btcusdt@trade"}, now)
	if err != nil || id != 3 {
		t.Fatalf("Register id=%d err=%v, want 3", id, err)
	}

	_, err = tr.Register(IntentUnsubscribe, []model.Topic{"btcusdt@trade"}, now)
	var pv *model.ProtocolViolation
	if !errors.As(err, &pv) || pv.ID != 3 {
		t.Fatalf("err=%v, want ProtocolViolation id=3", err)
	}
	if p, ok := tr.Resolve(3); !ok || p.Intent != IntentSubscribe || tr.Len() != 0 {
		t.Fatalf("原条目不应被覆盖: %+v", p)
	}
}
