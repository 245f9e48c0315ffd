// Package hostinfo captures the host facts that land in the final report's
// "extra" block.
package hostinfo

import (
	"runtime"

	"github.com/pbnjay/memory"
)

func readTotalRAM() uint64 {
	return memory.TotalMemory()
}

// Info is the "extra" block of the final report.
type Info struct {
	CPUCount int    `json:"cpu_count"`
	TotalRAM uint64 `json:"total_ram_bytes"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
}

// Capture snapshots host facts at process start.
func Capture() Info {
	return Info{
		CPUCount: runtime.NumCPU(),
		TotalRAM: readTotalRAM(),
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
}
