package transcoder

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// monitorInterval is how often a watched child process is sampled.
const monitorInterval = 10 * time.Second

// ProcessMonitor samples CPU and memory of running transcoder children and
// logs them. Long renders are the main consumer of machine resources, so the
// samples make runaway filtergraphs visible without attaching a profiler.
type ProcessMonitor struct {
	logger *slog.Logger
}

// NewProcessMonitor creates a ProcessMonitor.
func NewProcessMonitor(logger *slog.Logger) *ProcessMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessMonitor{logger: logger}
}

// Watch starts sampling the given pid until the returned stop function is
// called. Sampling errors are ignored; the process usually exited.
func (m *ProcessMonitor) Watch(pid int) (stop func()) {
	done := make(chan struct{})

	go func() {
		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			return
		}
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.sample(proc)
			}
		}
	}()

	return func() { close(done) }
}

func (m *ProcessMonitor) sample(proc *process.Process) {
	cpu, err := proc.CPUPercent()
	if err != nil {
		return
	}
	var rssMB uint64
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rssMB = mem.RSS / (1024 * 1024)
	}

	m.logger.Debug("transcoder resource usage",
		slog.Int("pid", int(proc.Pid)),
		slog.Float64("cpu_percent", cpu),
		slog.Uint64("rss_mb", rssMB),
	)
}
