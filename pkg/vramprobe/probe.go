// Package vramprobe implements the VRAM Probe (spec §4.B): it reports
// total/used/available host memory, GPU utilisation, and PSI pressure
// figures the orchestrator and admin status endpoint consult.
//
// No portable in-process API exists for GPU VRAM accounting across vendors,
// so actual GPU-resident usage is approximated by the registry's declared
// footprints (per §3's invariant); this probe supplies the host-memory and
// CPU-pressure signals that round out admission decisions and the
// /internal/vram/status response.
package vramprobe

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PSI holds pressure-stall-indicator averages (percentage, 0-100) for the
// "some" metric at the 10s window, or zero on platforms where
// /proc/pressure is unavailable (anything but Linux).
type PSI struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	IO     float64 `json:"io"`
}

// Reading is a single sample from the probe.
type Reading struct {
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	AvailableGB float64 `json:"available_gb"`
	UsagePct    float64 `json:"usage_pct"`
	PSI         PSI     `json:"psi"`
}

// SystemMemoryInfo is the narrow interface the orchestrator depends on,
// allowing tests to substitute a fake reading without touching the host.
type SystemMemoryInfo interface {
	Read(ctx context.Context) (Reading, error)
}

// psiReader abstracts PSI sampling, implemented per-platform (Linux reads
// /proc/pressure/*; everywhere else reports zero).
type psiReader interface {
	Read() PSI
}

// Probe is the default SystemMemoryInfo backed by gopsutil and the Linux
// PSI pseudo-files.
type Probe struct {
	psiReader psiReader
}

// New creates a Probe using the host's PSI reader (a no-op on non-Linux
// platforms, mirroring the teacher's runtime.GOOS branching convention in
// pkg/inference/platform).
func New() *Probe {
	return &Probe{psiReader: newPSIReader()}
}

// Read samples host memory and PSI. GPU utilisation proper is left to the
// caller (the orchestrator), which derives VRAM pressure from the registry
// and per-model declared footprints as specified in §3.
func (p *Probe) Read(ctx context.Context) (Reading, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, err
	}

	const bytesPerGB = 1 << 30
	reading := Reading{
		TotalGB:     float64(vm.Total) / bytesPerGB,
		UsedGB:      float64(vm.Used) / bytesPerGB,
		AvailableGB: float64(vm.Available) / bytesPerGB,
		UsagePct:    vm.UsedPercent,
	}
	reading.PSI = p.psiReader.Read()
	return reading, nil
}

// cpuPercent is kept for the admin status endpoint's healthy determination;
// it is sampled independently of memory since cpu.Percent blocks briefly.
func CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}
