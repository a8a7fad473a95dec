package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a child process.
type Usage struct {
	PID        int
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// SampleUsage reads CPU and memory figures for the live child.
func (p *Process) SampleUsage() (Usage, error) {
	gp, err := gopsproc.NewProcess(int32(p.pid))
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: p.pid}
	if cpu, err := gp.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := gp.MemoryInfo()
	if err != nil {
		return u, err
	}
	u.RSSBytes = mem.RSS
	if n, err := gp.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
