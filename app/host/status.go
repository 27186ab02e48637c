package host

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Status of the worker
type Status struct {
	State      State         `json:"state"`
	Command    string        `json:"command"`
	Sink       string        `json:"sink,omitempty"`
	Attempt    int           `json:"attempt"`
	PID        int           `json:"pid,omitempty"`
	ExitCode   int           `json:"exit_code"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
	Output     string        `json:"output,omitempty"`
	Process    *ProcessStats `json:"process,omitempty"`
}

// ProcessStats is resource usage of the running worker
type ProcessStats struct {
	RSS        uint64    `json:"rss"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
	CreatedAt  time.Time `json:"created_at"`
}

// Uptime returns time since the worker started, zero if not running
func (s Status) Uptime() time.Duration {
	if s.State != StateRunning || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt).Truncate(time.Second)
}

func processStats(pid int) (*ProcessStats, error) {
	p, err := process.NewProcess(int32(pid)) //nolint:gosec // pid fits int32
	if err != nil {
		return nil, fmt.Errorf("can't find process %d: %w", pid, err)
	}
	res := &ProcessStats{}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("can't get memory info: %w", err)
	}
	res.RSS = mem.RSS
	if res.CPUPercent, err = p.CPUPercent(); err != nil {
		return nil, fmt.Errorf("can't get cpu usage: %w", err)
	}
	if res.Threads, err = p.NumThreads(); err != nil {
		return nil, fmt.Errorf("can't get threads: %w", err)
	}
	ct, err := p.CreateTime()
	if err != nil {
		return nil, fmt.Errorf("can't get create time: %w", err)
	}
	res.CreatedAt = time.UnixMilli(ct)
	return res, nil
}
