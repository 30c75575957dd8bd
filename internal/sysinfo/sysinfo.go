// Package sysinfo snapshots the benchmark host and the revision of the
// project under test, so recorded results can be traced to both.
package sysinfo

import (
	"bytes"
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/johndauphine/benchsweep/internal/proc"
)

// Snapshot describes where a sweep ran.
type Snapshot struct {
	Host HostInfo `json:"host"`
	Git  GitInfo  `json:"git"`
}

// HostInfo contains host system information.
type HostInfo struct {
	OS            string `json:"os"`
	KernelVersion string `json:"kernel_version"`
	Platform      string `json:"platform"`
	Hostname      string `json:"hostname"`
	Containerized bool   `json:"containerized"`

	CPUCores        int     `json:"cpu_cores"`
	CPUModel        string  `json:"cpu_model"`
	CPUFrequencyMHz float64 `json:"cpu_frequency_mhz"`

	MemoryTotalMB     int64   `json:"memory_total_mb"`
	MemoryAvailableMB int64   `json:"memory_available_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	// Disk holding the derived datasets.
	DiskPath        string  `json:"disk_path,omitempty"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskFreeGB      float64 `json:"disk_free_gb"`
	DiskUsedPercent float64 `json:"disk_used_percent"`

	GoVersion string `json:"go_version"`
}

// GitInfo identifies the source revision that was built.
type GitInfo struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Gather collects host information and the git revision of sourceDir.
// Missing information is left empty; Gather never fails.
func Gather(ctx context.Context, runner proc.Runner, sourceDir, dataDir string) Snapshot {
	return Snapshot{
		Host: GatherHostInfo(dataDir),
		Git:  GatherGitInfo(ctx, runner, sourceDir),
	}
}

// GatherHostInfo collects information about the host system. diskPath
// selects the filesystem to report; empty means the working directory.
func GatherHostInfo(diskPath string) HostInfo {
	info := HostInfo{
		CPUCores:  runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = hostInfo.OS
		info.KernelVersion = hostInfo.KernelVersion
		info.Platform = hostInfo.Platform
		info.Hostname = hostInfo.Hostname
	}
	info.Containerized = isContainerized()

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
		info.CPUFrequencyMHz = cpuInfo[0].Mhz
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotalMB = int64(memInfo.Total / 1024 / 1024)
		info.MemoryAvailableMB = int64(memInfo.Available / 1024 / 1024)
		info.MemoryUsedPercent = memInfo.UsedPercent
	}

	if diskPath == "" {
		diskPath, _ = os.Getwd()
	}
	if diskPath != "" {
		if diskInfo, err := disk.Usage(diskPath); err == nil {
			info.DiskPath = diskPath
			info.DiskTotalGB = float64(diskInfo.Total) / 1024 / 1024 / 1024
			info.DiskFreeGB = float64(diskInfo.Free) / 1024 / 1024 / 1024
			info.DiskUsedPercent = diskInfo.UsedPercent
		}
	}

	return info
}

// GatherGitInfo asks git about dir. Non-repositories yield an empty GitInfo.
func GatherGitInfo(ctx context.Context, runner proc.Runner, dir string) GitInfo {
	var info GitInfo
	commit, ok := git(ctx, runner, dir, "rev-parse", "HEAD")
	if !ok {
		return info
	}
	info.Commit = commit
	info.Branch, _ = git(ctx, runner, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if status, ok := git(ctx, runner, dir, "status", "--porcelain", "--untracked-files=no"); ok {
		info.Dirty = status != ""
	}
	return info
}

func git(ctx context.Context, runner proc.Runner, dir string, args ...string) (string, bool) {
	var out bytes.Buffer
	_, err := runner.Run(ctx, proc.Command{
		Args:    append([]string{"git", "-C", dir}, args...),
		Stdout:  &out,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(out.String()), true
}

// isContainerized checks if we're running in a container.
func isContainerized() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "kubepods") {
			return true
		}
	}
	return false
}
