package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type laneStat struct {
	events int64
	bytes  int64
}

var (
	errorsConnector int64
	errorsPipeline  int64
	warnsConnector  int64
	warnsPipeline   int64
	eventsIngested  int64
	eventsDropped   int64
	parseErrors     int64
	retryCount      int64
	signalsEmitted  int64
	lanes           sync.Map // map[string]*laneStat
)

func recordWarn(component string) {
	if strings.Contains(component, "connector") {
		atomic.AddInt64(&warnsConnector, 1)
	} else if strings.Contains(component, "pipeline") {
		atomic.AddInt64(&warnsPipeline, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "connector") {
		atomic.AddInt64(&errorsConnector, 1)
	} else if strings.Contains(component, "pipeline") {
		atomic.AddInt64(&errorsPipeline, 1)
	}
}

// IncrementEventsIngested counts events accepted into a ring buffer.
func IncrementEventsIngested(n int) {
	atomic.AddInt64(&eventsIngested, int64(n))
}

// IncrementEventsDropped counts events rejected by a full buffer.
func IncrementEventsDropped(n int) {
	atomic.AddInt64(&eventsDropped, int64(n))
}

// IncrementParseErrors counts malformed wire messages that were skipped.
func IncrementParseErrors() {
	atomic.AddInt64(&parseErrors, 1)
}

// IncrementRetryCount counts reconnect attempts across all connectors.
func IncrementRetryCount() {
	atomic.AddInt64(&retryCount, 1)
}

// IncrementSignalsEmitted counts analytics signals re-injected into the
// pipeline.
func IncrementSignalsEmitted() {
	atomic.AddInt64(&signalsEmitted, 1)
}

// RecordLaneMessage accumulates per-lane event and byte counters for the
// periodic report.
func RecordLaneMessage(name string, size int) {
	v, _ := lanes.LoadOrStore(name, &laneStat{})
	ls := v.(*laneStat)
	atomic.AddInt64(&ls.events, 1)
	atomic.AddInt64(&ls.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	laneData := map[string]map[string]int64{}
	lanes.Range(func(k, v any) bool {
		name := k.(string)
		ls := v.(*laneStat)
		laneData[name] = map[string]int64{
			"events": atomic.LoadInt64(&ls.events),
			"bytes":  atomic.LoadInt64(&ls.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_connector": atomic.LoadInt64(&errorsConnector),
		"errors_pipeline":  atomic.LoadInt64(&errorsPipeline),
		"warns_connector":  atomic.LoadInt64(&warnsConnector),
		"warns_pipeline":   atomic.LoadInt64(&warnsPipeline),
		"events_ingested":  atomic.LoadInt64(&eventsIngested),
		"events_dropped":   atomic.LoadInt64(&eventsDropped),
		"parse_errors":     atomic.LoadInt64(&parseErrors),
		"reconnects":       atomic.LoadInt64(&retryCount),
		"signals_emitted":  atomic.LoadInt64(&signalsEmitted),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"lanes":            laneData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-EventsIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsIngested)))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-EventsDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsDropped)))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-ParseErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&parseErrors)))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&retryCount)))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-SignalsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&signalsEmitted)))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Tapeflow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range laneData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Tapeflow-LaneEvents"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Lane"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["events"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Tapeflow-LaneBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Lane"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
