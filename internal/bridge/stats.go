package bridge

import (
	"github.com/shirou/gopsutil/v3/process"

	"miaoda-term/pkg/protocol"
)

// Stats 子进程资源占用 (status 命令)
func (h *Handle) Stats() (protocol.ProcessStats, error) {
	if !h.Alive() {
		return protocol.ProcessStats{}, ErrTransportDead
	}
	pid := h.PID()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return protocol.ProcessStats{}, err
	}

	st := protocol.ProcessStats{PID: pid}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if children, err := p.Children(); err == nil {
		st.Children = len(children)
	}
	if ct, err := p.CreateTime(); err == nil {
		st.CreateTime = ct
	}
	return st, nil
}
