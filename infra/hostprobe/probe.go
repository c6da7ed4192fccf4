// Package hostprobe samples host-level resource usage from /proc.
// It is polled from the metrics publisher cadence, never from the
// matching hot path.
package hostprobe

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Probe reads CPU, memory and network figures through procfs. CPU and
// network results are deltas against the previous call, so a Probe is
// stateful and not safe for concurrent use; the metrics publisher is
// its only caller.
type Probe struct {
	fs   procfs.FS
	proc procfs.Proc

	lastIdle  float64
	lastTotal float64
	lastSent  uint64
	lastRecv  uint64
}

// New opens a probe over the given procfs mount point (normally
// "/proc"; tests point it at a fixture tree).
func New(mount string) (*Probe, error) {
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("hostprobe: %w", err)
	}
	proc, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("hostprobe: self: %w", err)
	}
	return &Probe{fs: fs, proc: proc}, nil
}

// CPU returns the non-idle fraction of CPU time since the previous
// call, scaled by 1000 (tenths of a percent, 0-1000).
func (p *Probe) CPU() (float64, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("hostprobe: stat: %w", err)
	}
	c := st.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal

	totalDiff := total - p.lastTotal
	idleDiff := idle - p.lastIdle
	p.lastTotal = total
	p.lastIdle = idle

	if totalDiff <= 0 {
		return 0, nil
	}
	return 1000 * (totalDiff - idleDiff) / totalDiff, nil
}

// Memory returns the current process resident set size in bytes.
func (p *Probe) Memory() (uint64, error) {
	st, err := p.proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("hostprobe: proc stat: %w", err)
	}
	return uint64(st.ResidentMemory()), nil
}

// Network returns bytes sent and received across all non-loopback
// interfaces since the previous call.
func (p *Probe) Network() (sent, recv uint64, err error) {
	nd, err := p.fs.NetDev()
	if err != nil {
		return 0, 0, fmt.Errorf("hostprobe: netdev: %w", err)
	}
	var totalSent, totalRecv uint64
	for name, line := range nd {
		if name == "lo" {
			continue
		}
		totalSent += line.TxBytes
		totalRecv += line.RxBytes
	}
	sent = totalSent - p.lastSent
	recv = totalRecv - p.lastRecv
	p.lastSent = totalSent
	p.lastRecv = totalRecv
	return sent, recv, nil
}
