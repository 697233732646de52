// Package sysinfo reports the node the job landed on. Each requeue can land
// on a different node, so every run logs what it got.
package sysinfo

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/preempt/errors"
)

// Node is a point-in-time view of the current host
type Node struct {
	Host          string  `json:"host"`
	CPUs          int     `json:"cpus"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryAvailMB uint64  `json:"memory_available_mb"`
	Load1         float64 `json:"load1"`
}

// Collect reads host, CPU, memory and load figures. Missing pieces are left
// zero; only a memory read failure is an error.
func Collect(ctx context.Context) (*Node, error) {
	n := &Node{}
	n.Host, _ = os.Hostname()

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return n, errors.Wrap(err, "failed to get memory stats")
	}
	n.MemoryTotalMB = v.Total / 1024 / 1024
	n.MemoryAvailMB = v.Available / 1024 / 1024

	if c, err := cpu.CountsWithContext(ctx, true); err == nil {
		n.CPUs = c
	}
	if l, err := load.AvgWithContext(ctx); err == nil {
		n.Load1 = l.Load1
	}
	return n, nil
}

// LogFields returns the node as logger key/value pairs
func (n *Node) LogFields() []interface{} {
	return []interface{}{
		"host", n.Host,
		"cpus", n.CPUs,
		"memory_total_mb", n.MemoryTotalMB,
		"memory_available_mb", n.MemoryAvailMB,
		"load1", n.Load1,
	}
}

// CheckMemory returns a warning when requestMB exceeds what the node has
// available. Empty means the request fits (or no request was made).
func (n *Node) CheckMemory(requestMB int) string {
	if requestMB <= 0 || n.MemoryTotalMB == 0 {
		return ""
	}
	req := uint64(requestMB)
	switch {
	case req > n.MemoryTotalMB:
		return "requested memory exceeds node total"
	case req > n.MemoryAvailMB:
		return "requested memory exceeds memory currently available"
	}
	return ""
}
