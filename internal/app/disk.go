package app

import "syscall"

// DiskUsage is the filesystem holding the TLE cache.
type DiskUsage struct {
	Path      string `json:"path"`
	Total     uint64 `json:"total_bytes"`
	Available uint64 `json:"available_bytes"`
}

// diskUsage reports space on the filesystem containing path, or nil when it
// cannot be read (for example before the cache directory exists).
func diskUsage(path string) *DiskUsage {
	if path == "" {
		return nil
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil
	}
	return &DiskUsage{
		Path:      path,
		Total:     st.Blocks * uint64(st.Bsize),
		Available: st.Bavail * uint64(st.Bsize),
	}
}
