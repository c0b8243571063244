package syncworkflow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

func TestRunAllBoundsFanOut(t *testing.T) {
	const fanOut = 3
	dr := &syncRunner{id: 1, ctx: context.Background(), fanOut: fanOut}

	var running, peak atomic.Int64
	probe := domain.NewActivity("probe", func(ctx context.Context, in int) (int, error) {
		cur := running.Add(1)
		for {
			m := peak.Load()
			if cur <= m || peak.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return in * 2, nil
	})

	ins := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	outs, err := domain.RunActivityAll(dr, probe, ins)
	if err != nil {
		t.Fatalf("RunActivityAll: %v", err)
	}
	for i, in := range ins {
		if outs[i] != in*2 {
			t.Errorf("outs[%d] = %d, want %d (results must align with inputs)", i, outs[i], in*2)
		}
	}
	if got := peak.Load(); got > fanOut {
		t.Errorf("peak concurrency = %d, want at most %d", got, fanOut)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("peak concurrency = %d, want parallel dispatch", got)
	}
}

func TestRunAllWaitsForWholeBatch(t *testing.T) {
	dr := &syncRunner{id: 2, ctx: context.Background(), fanOut: 4}

	var completed atomic.Int64
	flaky := domain.NewActivity("flaky", func(ctx context.Context, in int) (string, error) {
		defer completed.Add(1)
		if in%2 == 1 {
			return "", domain.NewResourceError("flaky", "", "odd input")
		}
		return "ok", nil
	})

	ins := []int{0, 1, 2, 3, 4, 5}
	outs, err := domain.RunActivityAll(dr, flaky, ins)
	if err == nil {
		t.Fatal("RunActivityAll: want joined error")
	}
	if got := completed.Load(); got != int64(len(ins)) {
		t.Errorf("completed = %d, want %d (failures must not cancel the batch)", got, len(ins))
	}
	// Every failure is present in the joined error.
	if got := strings.Count(err.Error(), "odd input"); got != 3 {
		t.Errorf("joined error mentions %d failures, want 3: %v", got, err)
	}
	for i, in := range ins {
		want := "ok"
		if in%2 == 1 {
			want = ""
		}
		if outs[i] != want {
			t.Errorf("outs[%d] = %q, want %q", i, outs[i], want)
		}
	}
}

func TestRunUsesCallerContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "present")
	dr := &syncRunner{id: 3, ctx: ctx, fanOut: 1}

	echo := domain.NewActivity("echo", func(ctx context.Context, _ struct{}) (string, error) {
		v, _ := ctx.Value(key{}).(string)
		return v, nil
	})

	got, err := domain.RunActivity(dr, echo, struct{}{})
	if err != nil {
		t.Fatalf("RunActivity: %v", err)
	}
	if got != "present" {
		t.Errorf("activity context value = %q, want caller's context", got)
	}
	if dr.Context() != ctx {
		t.Error("Context() is not the caller's context")
	}
}

func TestEngineFanOutDefault(t *testing.T) {
	if got := (&Engine{}).fanOut(); got != DefaultFanOut {
		t.Errorf("fanOut() = %d, want %d", got, DefaultFanOut)
	}
	if got := (&Engine{FanOut: 2}).fanOut(); got != 2 {
		t.Errorf("fanOut() = %d, want 2", got)
	}
}
