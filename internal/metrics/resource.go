package metrics

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

const defaultSampleInterval = 5 * time.Second

// Sampler periodically samples resource usage of the supervised server
// process and exposes it as gauges. With no live server the gauges read
// zero.
type Sampler struct {
	interval time.Duration
	pid      func() int
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent prometheus.Gauge
	memoryRSS  prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewSampler builds a sampler polling pid() every interval. A zero
// interval selects the default. pid returning a non-positive value means
// no server is tracked.
func NewSampler(interval time.Duration, pid func() int) *Sampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Sampler{
		interval: interval,
		pid:      pid,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "server_cpu_percent",
			Help:      "CPU usage percentage of the supervised server.",
		}),
		memoryRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "server_memory_rss_bytes",
			Help:      "Resident memory of the supervised server.",
		}),
		numThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "server_num_threads",
			Help:      "Thread count of the supervised server.",
		}),
		numFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "server_num_fds",
			Help:      "Open file descriptors of the supervised server (Unix only).",
		}),
	}
}

// RegisterMetrics registers the sampler's gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) sample() {
	pid := s.pid()
	if pid <= 0 {
		s.reset()
		return
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		s.reset()
		return
	}

	// CPU percent needs a prior call for an accurate delta; the first
	// sample after a start reads low.
	if cpu, err := proc.CPUPercent(); err == nil {
		s.cpuPercent.Set(cpu)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		s.memoryRSS.Set(float64(mem.RSS))
	}
	if threads, err := proc.NumThreads(); err == nil {
		s.numThreads.Set(float64(threads))
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			s.numFDs.Set(float64(fds))
		}
	}
}

func (s *Sampler) reset() {
	s.cpuPercent.Set(0)
	s.memoryRSS.Set(0)
	s.numThreads.Set(0)
	s.numFDs.Set(0)
}
