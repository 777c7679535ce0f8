// Package health periodically samples the host's own CPU and memory and
// logs the result via slog. It exists because several delivery side
// effects (pipe_deadlock, notification_flood, large generator output) are
// designed to put load on the machine running this server, not just on the
// client under test; an operator watching a test run needs to tell the two
// apart.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one point-in-time reading of host resource usage.
type Sample struct {
	CPUPercent   float64
	MemUsedBytes uint64
	MemTotal     uint64
	LoadAvg1     float64
}

// Sampler periodically collects a Sample and logs it.
type Sampler struct {
	interval time.Duration
	log      *slog.Logger

	// sampleFunc is swappable in tests; defaults to collectFromHost.
	sampleFunc func() (Sample, error)
}

// NewSampler returns a Sampler that logs a reading every interval.
func NewSampler(interval time.Duration, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{interval: interval, log: log, sampleFunc: collectFromHost}
}

// Run blocks, logging a sample every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.interval = 10 * time.Second
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := s.sampleFunc()
			if err != nil {
				s.log.Warn("health_sample_failed", "error", err)
				continue
			}
			s.log.Info("health_sample",
				"cpu_percent", sample.CPUPercent,
				"mem_used_bytes", sample.MemUsedBytes,
				"mem_total_bytes", sample.MemTotal,
				"load_avg_1", sample.LoadAvg1,
			)
		}
	}
}

func collectFromHost() (Sample, error) {
	var sample Sample

	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return sample, err
	}
	if len(cpuPercent) > 0 {
		sample.CPUPercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		sample.MemUsedBytes = memInfo.Used
		sample.MemTotal = memInfo.Total
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		sample.LoadAvg1 = loadAvg.Load1
	}

	return sample, nil
}
