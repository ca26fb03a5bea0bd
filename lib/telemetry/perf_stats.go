package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

var perfMeter = Meter("dropcarter.perf_stats")
var cpuGauge, _ = perfMeter.Float64Gauge("cpu_usage")
var processMemoryGauge, _ = perfMeter.Int64Gauge("process_rss_mb")
var heapGauge, _ = perfMeter.Int64Gauge("heap_alloc_mb")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")

const perfStatsInterval = 30 * time.Second

// InstrumentPerfStats records cpu, memory and goroutine gauges every 30
// seconds until ctx is done. chrome runs in its own processes so only this
// process is measured.
func InstrumentPerfStats(ctx context.Context) {
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.DebugContext(ctx, "process stats unavailable", "err", err)
	}

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(perfStatsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				recordPerfStats(ctx, self, &memStats)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func recordPerfStats(ctx context.Context, self *process.Process, memStats *runtime.MemStats) {
	runtime.ReadMemStats(memStats)
	heapGauge.Record(ctx, int64(memStats.HeapAlloc/1_000_000))
	goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

	cpuUsage, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err == nil && len(cpuUsage) > 0 {
		cpuGauge.Record(ctx, cpuUsage[0])
	} else if err != nil {
		slog.DebugContext(ctx, "failed to read cpu usage", "err", err)
	}

	if self == nil {
		return
	}
	mem, err := self.MemoryInfoWithContext(ctx)
	if err != nil {
		slog.DebugContext(ctx, "failed to read process memory", "err", err)
		return
	}
	processMemoryGauge.Record(ctx, int64(mem.RSS/1_000_000))
}
