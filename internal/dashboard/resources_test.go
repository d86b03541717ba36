package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"tapeflow/logger"
)

func TestResourceSamplerCollects(t *testing.T) {
	origCPU, origMem := cpuPercentFn, memoryStatsFn
	defer func() { cpuPercentFn, memoryStatsFn = origCPU, origMem }()

	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 100, Total: 200, UsedPercent: 50}, nil
	}

	s := newResourceSampler(5, time.Millisecond, logger.GetLogger())
	ctx, cancel := context.WithCancel(context.Background())
	s.start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(s.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no samples collected")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	s.stop()

	snap := s.snapshot()
	if snap[0].CPUPercent != 42.5 || snap[0].MemoryPct != 50 {
		t.Fatalf("sample = %+v", snap[0])
	}
	if len(snap) > 5 {
		t.Fatalf("history exceeded limit: %d", len(snap))
	}
}

func TestFirstSample(t *testing.T) {
	if got := firstSample(nil); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := firstSample([]float64{7, 9}); got != 7 {
		t.Errorf("first = %v", got)
	}
}
