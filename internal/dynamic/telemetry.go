// Package dynamic executes suspect targets in a constrained environment and
// records what they actually do: hooked interpreter calls for Python,
// sampled process telemetry for compiled targets.
package dynamic

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Snapshot is one point-in-time view of a running process's resources.
type Snapshot struct {
	OpenFiles      []string
	Connections    []string
	ResidentMemory int64 // bytes
	Children       []int
}

// TelemetrySource samples a live process. The procfs implementation is the
// production source; tests inject fakes.
type TelemetrySource interface {
	Sample(pid int) (Snapshot, error)
}

type procfsTelemetry struct {
	root string // "/proc", overridable for tests
}

// NewProcfsTelemetry returns the /proc-backed telemetry source.
func NewProcfsTelemetry() TelemetrySource {
	return &procfsTelemetry{root: "/proc"}
}

func (p *procfsTelemetry) Sample(pid int) (Snapshot, error) {
	base := filepath.Join(p.root, strconv.Itoa(pid))
	if _, err := os.Stat(base); err != nil {
		return Snapshot{}, fmt.Errorf("process %d not available: %w", pid, err)
	}
	snap := Snapshot{
		ResidentMemory: p.residentMemory(base),
		Children:       p.children(base),
	}
	snap.OpenFiles, snap.Connections = p.descriptors(base)
	return snap, nil
}

// descriptors walks /proc/<pid>/fd: plain paths are open files, socket links
// are resolved against the process's tcp tables.
func (p *procfsTelemetry) descriptors(base string) (files, conns []string) {
	entries, err := os.ReadDir(filepath.Join(base, "fd"))
	if err != nil {
		return nil, nil
	}
	inodes := make(map[string]bool)
	for _, e := range entries {
		link, err := os.Readlink(filepath.Join(base, "fd", e.Name()))
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(link, "socket:["):
			inodes[strings.TrimSuffix(strings.TrimPrefix(link, "socket:["), "]")] = true
		case strings.HasPrefix(link, "/") && !strings.HasPrefix(link, "/dev/"):
			files = append(files, link)
		}
	}
	if len(inodes) > 0 {
		conns = p.connections(base, inodes)
	}
	return files, conns
}

// connections parses /proc/<pid>/net/tcp{,6}, keeping established remote
// endpoints whose socket inode belongs to the process.
func (p *procfsTelemetry) connections(base string, inodes map[string]bool) []string {
	var out []string
	for _, table := range []string{"net/tcp", "net/tcp6"} {
		data, err := os.ReadFile(filepath.Join(base, table))
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			if len(fields) < 10 || !inodes[fields[9]] {
				continue
			}
			if remote := decodeHexAddr(fields[2]); remote != "" {
				out = append(out, remote)
			}
		}
	}
	return out
}

func (p *procfsTelemetry) residentMemory(base string) int64 {
	data, err := os.ReadFile(filepath.Join(base, "statm"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}

func (p *procfsTelemetry) children(base string) []int {
	tasks, err := os.ReadDir(filepath.Join(base, "task"))
	if err != nil {
		return nil
	}
	var out []int
	for _, t := range tasks {
		data, err := os.ReadFile(filepath.Join(base, "task", t.Name(), "children"))
		if err != nil {
			continue
		}
		for _, f := range strings.Fields(string(data)) {
			if pid, err := strconv.Atoi(f); err == nil {
				out = append(out, pid)
			}
		}
	}
	return out
}

// decodeHexAddr converts the kernel's ADDR:PORT hex form to dotted notation.
// The zero address (unbound sockets) decodes to empty.
func decodeHexAddr(hexAddr string) string {
	parts := strings.Split(hexAddr, ":")
	if len(parts) != 2 {
		return ""
	}
	port, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil {
		return ""
	}
	addr := parts[0]
	if strings.Trim(addr, "0") == "" {
		return ""
	}
	if len(addr) == 8 {
		// IPv4, little-endian byte order.
		var b [4]int64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseInt(addr[i*2:i*2+2], 16, 32)
			if err != nil {
				return ""
			}
			b[3-i] = v
		}
		return fmt.Sprintf("%d.%d.%d.%d:%d", b[0], b[1], b[2], b[3], port)
	}
	return fmt.Sprintf("[%s]:%d", strings.ToLower(addr), port)
}
