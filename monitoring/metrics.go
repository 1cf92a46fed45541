package monitoring

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterName      = "art01ml"
	durationSuffix = "_duration_ms"
)

// MetricsCollector 基于OpenTelemetry的进程内指标，由ManualReader按需采集
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	meter    metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram

	startTime time.Time
}

// TimingStats 耗时统计
type TimingStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Counters      map[string]int64       `json:"counters"`
	Timings       map[string]TimingStats `json:"timings"`
	UptimeSeconds float64                `json:"uptime_seconds"`
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(meterName),
		)),
	)
	return &MetricsCollector{
		provider:   provider,
		reader:     reader,
		meter:      provider.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		startTime:  time.Now(),
	}
}

// Inc 计数器加一
func (mc *MetricsCollector) Inc(name string) {
	mc.Add(name, 1)
}

// Add 计数器增加delta
func (mc *MetricsCollector) Add(name string, delta int64) {
	if mc == nil {
		return
	}
	counter, err := mc.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), delta)
}

// Observe 记录一次耗时
func (mc *MetricsCollector) Observe(name string, d time.Duration) {
	if mc == nil {
		return
	}
	histogram, err := mc.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), milliseconds(d))
}

func (mc *MetricsCollector) counter(name string) (metric.Int64Counter, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if c, ok := mc.counters[name]; ok {
		return c, nil
	}
	c, err := mc.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	mc.counters[name] = c
	return c, nil
}

func (mc *MetricsCollector) histogram(name string) (metric.Float64Histogram, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if h, ok := mc.histograms[name]; ok {
		return h, nil
	}
	h, err := mc.meter.Float64Histogram(name+durationSuffix, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	mc.histograms[name] = h
	return h, nil
}

// Counter 读取单个计数器
func (mc *MetricsCollector) Counter(name string) int64 {
	if mc == nil {
		return 0
	}
	return mc.Snapshot().Counters[name]
}

// Names 返回已记录的计数器名称（已排序）
func (mc *MetricsCollector) Names() []string {
	counters := mc.Snapshot().Counters
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot 从reader采集当前累计值
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Counters: make(map[string]int64),
		Timings:  make(map[string]TimingStats),
	}
	if mc == nil {
		return snapshot
	}
	snapshot.UptimeSeconds = time.Since(mc.startTime).Seconds()

	var rm metricdata.ResourceMetrics
	if err := mc.reader.Collect(context.Background(), &rm); err != nil {
		return snapshot
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					snapshot.Counters[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				name := strings.TrimSuffix(m.Name, durationSuffix)
				snapshot.Timings[name] = timingStats(data.DataPoints)
			}
		}
	}
	return snapshot
}

// Shutdown 关闭MeterProvider，之后的记录被丢弃
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	if mc == nil {
		return nil
	}
	return mc.provider.Shutdown(ctx)
}

func timingStats(points []metricdata.HistogramDataPoint[float64]) TimingStats {
	var stats TimingStats
	var sum float64
	for _, dp := range points {
		stats.Count += int64(dp.Count)
		sum += dp.Sum
		if v, ok := dp.Max.Value(); ok && v > stats.MaxMs {
			stats.MaxMs = v
		}
	}
	if stats.Count > 0 {
		stats.MeanMs = sum / float64(stats.Count)
	}
	return stats
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
