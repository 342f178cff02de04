// Package sysinfo describes the host a command ran on.
//
// The description is a single line placed in the summarization prompt so the
// backend can tell a macOS path from a Linux one, or a container from a
// workstation, when it explains a failure.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// collectTimeout bounds host queries; they read /proc and /etc and are
// normally instant.
const collectTimeout = 2 * time.Second

// SystemInfo contains the static facts used to describe the host.
type SystemInfo struct {
	// OS is the operating system name (linux, darwin, windows)
	OS string `json:"os"`

	// Platform is the distribution name (ubuntu, centos, debian, alpine)
	Platform string `json:"platform"`

	// PlatformVersion is the distribution version (22.04, 9.3, etc.)
	PlatformVersion string `json:"platformVersion"`

	// KernelArch is the kernel architecture (x86_64, aarch64)
	KernelArch string `json:"kernelArch"`

	// Arch is the Go architecture (amd64, arm64) - matches binary arch
	Arch string `json:"arch"`

	// Hostname is the system hostname
	Hostname string `json:"hostname"`

	// Virtualization info
	VirtualizationSystem string `json:"virtSystem,omitempty"` // kvm, docker, vmware, etc.
	VirtualizationRole   string `json:"virtRole,omitempty"`   // guest or host

	// MemoryTotal is total RAM in bytes
	MemoryTotal uint64 `json:"memoryTotal"`
}

// Collect gathers host information. Fields that cannot be read are left
// empty; only context cancellation is reported as an error.
func Collect(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.KernelArch = hostInfo.KernelArch
		info.Hostname = hostInfo.Hostname
		info.VirtualizationSystem = hostInfo.VirtualizationSystem
		info.VirtualizationRole = hostInfo.VirtualizationRole
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		info.MemoryTotal = memInfo.Total
	}

	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	return info, nil
}

// Line renders info as "hostname (platform version, arch, docker guest)".
func (info *SystemInfo) Line() string {
	var parts []string
	platform := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if platform == "" {
		platform = info.OS
	}
	parts = append(parts, platform, info.Arch)
	if info.VirtualizationSystem != "" && info.VirtualizationRole == "guest" {
		parts = append(parts, info.VirtualizationSystem+" guest")
	}
	if info.MemoryTotal > 0 {
		parts = append(parts, humanize.IBytes(info.MemoryTotal)+" RAM")
	}

	name := info.Hostname
	if name == "" {
		name = "unknown host"
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", "))
}

// HostLine collects host information and returns its one-line description.
// It falls back to the Go runtime values when collection fails.
func HostLine(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	info, err := Collect(ctx)
	if err != nil {
		info = &SystemInfo{OS: runtime.GOOS, Arch: runtime.GOARCH}
	}
	return info.Line()
}
