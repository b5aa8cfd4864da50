package engine

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
)

// CPUCount returns the number of logical CPUs available, used by
// compress_video/convert_mp4's max_threads=0 auto-detection. Falls back to
// 4 if the probe fails.
func CPUCount() int {
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		return 4
	}
	return counts
}

// DiskFreeBytes reports free space on the filesystem backing path, used by
// /health to surface disk pressure on the shared uploads/results/scratch
// volume.
func DiskFreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
