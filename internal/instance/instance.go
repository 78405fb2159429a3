// Package instance defines the emulator instance data model and the
// parsing of MuMuManager info output.
package instance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one instance's observed state at a point in time.
// Index is the sole identity key: two snapshots with the same index
// describe the same instance across time.
type Snapshot struct {
	Index         int       `json:"index"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	CPU           string    `json:"cpu"`
	Memory        string    `json:"memory"`
	DiskUsage     string    `json:"disk_usage"`
	DiskSizeBytes int64     `json:"disk_size_bytes"`
	Path          string    `json:"path"`
	Version       string    `json:"version"`
	Running       bool      `json:"running"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Field returns the snapshot's value for a diffable field name.
// Unknown names return the empty string.
func (s Snapshot) Field(name string) string {
	switch name {
	case "name":
		return s.Name
	case "status":
		return s.Status
	case "cpu":
		return s.CPU
	case "memory":
		return s.Memory
	case "disk_usage":
		return s.DiskUsage
	case "running":
		return strconv.FormatBool(s.Running)
	case "path":
		return s.Path
	case "version":
		return s.Version
	case "disk_size_bytes":
		return strconv.FormatInt(s.DiskSizeBytes, 10)
	default:
		return ""
	}
}

// rawSnapshot mirrors the loosely typed JSON MuMuManager emits.
// Index arrives as a number or a string depending on the manager
// version; running state is reported under two different keys.
type rawSnapshot struct {
	Index            json.RawMessage `json:"index"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	CPU              string          `json:"cpu"`
	Memory           string          `json:"memory"`
	DiskUsage        string          `json:"disk_usage"`
	DiskSizeBytes    int64           `json:"disk_size_bytes"`
	Path             string          `json:"path"`
	Version          string          `json:"player_version"`
	IsProcessStarted *bool           `json:"is_process_started"`
	IsRunning        *bool           `json:"is_running"`
}

// ParseError indicates manager output could not be decoded.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "instance: parse: " + e.Reason
}

// ParseAll decodes the full `info -v all` output into a mapping keyed
// by instance index. It accepts one JSON object per line, a JSON
// array, an object keyed by index, or a single object. Empty output
// decodes to an empty mapping.
func ParseAll(output string, now time.Time) (map[int]Snapshot, error) {
	out := make(map[int]Snapshot)

	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return out, nil
	}

	// Newer managers emit one object per line.
	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") {
			lines = append(lines, line)
		}
	}
	if len(lines) > 1 {
		for _, line := range lines {
			var raw rawSnapshot
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				return nil, &ParseError{Reason: fmt.Sprintf("line %q: %v", line, err)}
			}
			snap, err := raw.snapshot(now)
			if err != nil {
				return nil, err
			}
			out[snap.Index] = snap
		}
		return out, nil
	}

	// Array form.
	if strings.HasPrefix(trimmed, "[") {
		var raws []rawSnapshot
		if err := json.Unmarshal([]byte(trimmed), &raws); err != nil {
			return nil, &ParseError{Reason: err.Error()}
		}
		for i, raw := range raws {
			snap, err := raw.snapshot(now)
			if err != nil {
				// Arrays without index fields are positional.
				if len(raw.Index) == 0 {
					snap = raw.snapshotAt(i, now)
				} else {
					return nil, err
				}
			}
			out[snap.Index] = snap
		}
		return out, nil
	}

	// Single object, or an object keyed by index.
	var raw rawSnapshot
	if err := json.Unmarshal([]byte(trimmed), &raw); err == nil && len(raw.Index) > 0 {
		snap, err := raw.snapshot(now)
		if err != nil {
			return nil, err
		}
		out[snap.Index] = snap
		return out, nil
	}

	var keyed map[string]rawSnapshot
	if err := json.Unmarshal([]byte(trimmed), &keyed); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	for key, raw := range keyed {
		snap, err := raw.snapshot(now)
		if err != nil {
			// Fall back to the map key when the object lacks an index.
			idx, convErr := strconv.Atoi(key)
			if convErr != nil {
				return nil, err
			}
			snap = raw.snapshotAt(idx, now)
		}
		out[snap.Index] = snap
	}
	return out, nil
}

// ParseOne decodes a single-instance `info -v <index>` output.
// The manager occasionally omits the index field; wantIndex fills it in.
func ParseOne(output string, wantIndex int, now time.Time) (Snapshot, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return Snapshot{}, &ParseError{Reason: fmt.Sprintf("no data for instance %d", wantIndex)}
	}

	var raw rawSnapshot
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Snapshot{}, &ParseError{Reason: fmt.Sprintf("instance %d: %v", wantIndex, err)}
	}
	if raw.Name == "" && len(raw.Index) == 0 {
		return Snapshot{}, &ParseError{Reason: fmt.Sprintf("instance %d: missing index and name", wantIndex)}
	}

	snap, err := raw.snapshot(now)
	if err != nil {
		snap = raw.snapshotAt(wantIndex, now)
	}
	if snap.Index != wantIndex {
		return Snapshot{}, &ParseError{Reason: fmt.Sprintf("asked for instance %d, got %d", wantIndex, snap.Index)}
	}
	return snap, nil
}

// snapshot converts a rawSnapshot, requiring a decodable index field.
func (r rawSnapshot) snapshot(now time.Time) (Snapshot, error) {
	idx, err := decodeIndex(r.Index)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshotAt(idx, now), nil
}

// snapshotAt converts a rawSnapshot using an externally supplied index.
func (r rawSnapshot) snapshotAt(idx int, now time.Time) Snapshot {
	running := false
	if r.IsProcessStarted != nil {
		running = *r.IsProcessStarted
	} else if r.IsRunning != nil {
		running = *r.IsRunning
	}

	disk := r.DiskUsage
	if disk == "" {
		disk = FormatSize(r.DiskSizeBytes)
	}

	return Snapshot{
		Index:         idx,
		Name:          r.Name,
		Status:        r.Status,
		CPU:           r.CPU,
		Memory:        r.Memory,
		DiskUsage:     disk,
		DiskSizeBytes: r.DiskSizeBytes,
		Path:          r.Path,
		Version:       r.Version,
		Running:       running,
		ObservedAt:    now,
	}
}

// decodeIndex accepts an index encoded as a JSON number or string.
func decodeIndex(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, &ParseError{Reason: "missing index field"}
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0, &ParseError{Reason: fmt.Sprintf("negative index %d", n)}
		}
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, &ParseError{Reason: fmt.Sprintf("index %s is neither number nor string", raw)}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{Reason: fmt.Sprintf("index %q is not numeric", s)}
	}
	if n < 0 {
		return 0, &ParseError{Reason: fmt.Sprintf("negative index %d", n)}
	}
	return n, nil
}

// FormatSize renders a byte count as human-readable text ("1.5GB").
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%s", float64(bytes)/float64(div), []string{"KB", "MB", "GB", "TB"}[exp])
}

// SortedIndices returns the mapping's keys in ascending order.
// Table renderers need a stable row order.
func SortedIndices(snaps map[int]Snapshot) []int {
	indices := make([]int, 0, len(snaps))
	for idx := range snaps {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}
