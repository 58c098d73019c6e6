package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"meteo-dashboard/services/internal/metrics"
	"meteo-dashboard/services/internal/store"
)

const (
	mb = 1024 * 1024
	gb = 1024 * mb
)

// stackProcesses are matched against process names to sum the stack's RAM.
var stackProcesses = []string{
	"home-api",
	"data-persister",
	"host-monitor",
	"mosquitto",
	"valkey-server",
	"redis-server",
	"postgres",
}

// HostStats is one snapshot of the host.
type HostStats struct {
	// BoardTemp is the hottest thermal sensor, absent when none is readable.
	BoardTemp store.Number

	CPULoad float64

	// RAMUsedMB excludes the page cache (total - available).
	RAMUsedMB  float64
	RAMTotalMB float64
	AppRAMMB   float64

	DiskUsedGB  float64
	DiskTotalGB float64
}

// Export copies the snapshot into the host gauges.
func (s HostStats) Export() {
	if s.BoardTemp.Valid {
		metrics.HostStat.WithLabelValues("board_temp_c").Set(s.BoardTemp.Value)
	}
	metrics.HostStat.WithLabelValues("cpu_percent").Set(s.CPULoad)
	metrics.HostStat.WithLabelValues("ram_used_mb").Set(s.RAMUsedMB)
	metrics.HostStat.WithLabelValues("ram_total_mb").Set(s.RAMTotalMB)
	metrics.HostStat.WithLabelValues("app_ram_mb").Set(s.AppRAMMB)
	metrics.HostStat.WithLabelValues("disk_used_gb").Set(s.DiskUsedGB)
	metrics.HostStat.WithLabelValues("disk_total_gb").Set(s.DiskTotalGB)
}

// CollectStats reads the host. A failing reading is logged and leaves its
// fields zero; the other readings still run.
func CollectStats(ctx context.Context, logger *slog.Logger) HostStats {
	var stats HostStats

	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		logger.Warn("thermal sensors unavailable", "error", err)
	}
	stats.BoardTemp = maxTemperature(temps)

	// Blocks for one second to sample the counters.
	if pct, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pct) > 0 {
		stats.CPULoad = pct[0]
	} else {
		logger.Error("cpu stats failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.RAMUsedMB = float64(vm.Total-vm.Available) / mb
		stats.RAMTotalMB = float64(vm.Total) / mb
	} else {
		logger.Error("memory stats failed", "error", err)
	}

	stats.AppRAMMB = float64(stackRSS(ctx)) / mb

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskUsedGB = float64(du.Used) / gb
		stats.DiskTotalGB = float64(du.Total) / gb
	} else {
		logger.Error("disk stats failed", "error", err)
	}

	return stats
}

// maxTemperature picks the hottest plausible reading.
func maxTemperature(temps []host.TemperatureStat) store.Number {
	var hottest store.Number
	for _, t := range temps {
		// Unwired sensors report 0 or garbage.
		if t.Temperature <= 0 || t.Temperature > 150 {
			continue
		}
		if !hottest.Valid || t.Temperature > hottest.Value {
			hottest = store.Some(t.Temperature)
		}
	}
	return hottest
}

func stackRSS(ctx context.Context) uint64 {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0
	}
	var sum uint64
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited meanwhile
			continue
		}
		if !isStackProcess(name) {
			continue
		}
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			sum += info.RSS
		}
	}
	return sum
}

func isStackProcess(name string) bool {
	for _, target := range stackProcesses {
		if strings.Contains(name, target) {
			return true
		}
	}
	return false
}

// reading is the sensor message the ingestion worker accepts.
type reading struct {
	Temp      store.Number `json:"temp"`
	Timestamp time.Time    `json:"timestamp"`
}

// BuildPayload encodes the board temperature as a device sample.
func BuildPayload(stats HostStats, at time.Time) ([]byte, error) {
	if !stats.BoardTemp.Valid {
		return nil, errors.New("no board temperature")
	}
	return json.Marshal(reading{Temp: stats.BoardTemp, Timestamp: at.UTC().Truncate(time.Second)})
}

// Publisher sends one message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Monitor reports the host as a weather device.
type Monitor struct {
	topic   string
	pub     Publisher
	collect func(context.Context) HostStats
	now     func() time.Time
	logger  *slog.Logger
}

// NewMonitor returns a monitor publishing real host readings on topic.
func NewMonitor(topic string, pub Publisher, logger *slog.Logger) *Monitor {
	m := &Monitor{topic: topic, pub: pub, now: time.Now, logger: logger}
	m.collect = func(ctx context.Context) HostStats { return CollectStats(ctx, logger) }
	return m
}

// Report takes one snapshot, updates the gauges and publishes the board
// temperature. Hosts without a thermal sensor only feed the gauges.
func (m *Monitor) Report(ctx context.Context) error {
	stats := m.collect(ctx)
	stats.Export()

	if !stats.BoardTemp.Valid {
		m.logger.Debug("no board temperature, nothing published")
		return nil
	}
	payload, err := BuildPayload(stats, m.now())
	if err != nil {
		return err
	}
	if err := m.pub.Publish(ctx, m.topic, payload); err != nil {
		return errors.Wrapf(err, "publish %s", m.topic)
	}
	m.logger.Info("host reading published", "topic", m.topic, "temp", stats.BoardTemp.Value,
		"cpu", stats.CPULoad, "ram_used_mb", stats.RAMUsedMB)
	return nil
}

// Run reports right away, then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.Report(ctx); err != nil {
			m.logger.Error("host report failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
