package supervisor

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/posse-io/posse/internal/record"
)

// HostStats is a host-wide utilization snapshot, independent of any
// managed process.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// SystemStats samples host-wide CPU, memory and disk utilization.
func (s *Supervisor) SystemStats() (HostStats, error) {
	var st HostStats
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return st, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percents) > 0 {
		st.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return st, fmt.Errorf("sample memory: %w", err)
	}
	st.MemoryPercent = vm.UsedPercent
	du, err := disk.Usage("/")
	if err != nil {
		return st, fmt.Errorf("sample disk: %w", err)
	}
	st.DiskPercent = du.UsedPercent
	return st, nil
}

// refreshStatsLocked samples cpu/memory for the live pid. A pid that has
// vanished from the OS transitions the record to died.
func (s *Supervisor) refreshStatsLocked(p *proc) {
	if p.rec.PID == 0 {
		return
	}
	gp, err := gopsproc.NewProcess(int32(p.rec.PID))
	if err != nil {
		s.logger.Warn("process vanished", "name", p.rec.Name, "pid", p.rec.PID)
		p.cmd = nil
		p.rec.ClearLiveState(record.StatusDied)
		s.updateRunningGauge()
		return
	}
	if v, err := gp.CPUPercent(); err == nil {
		p.rec.CPUPercent = v
	}
	if v, err := gp.MemoryPercent(); err == nil {
		p.rec.MemoryPercent = float64(v)
	}
}
