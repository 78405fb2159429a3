package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mumutools/mumuctl/internal/instance"
)

// DefaultFields is the default set of fields whose changes trigger a
// notification. Fields like disk_size_bytes, path, and version are
// still committed to the store on refresh but fluctuate without
// functional significance, so they stay out of this set.
var DefaultFields = []string{"name", "status", "cpu", "memory", "disk_usage", "running"}

// Result describes the outcome of diffing two snapshot mappings.
// An index absent from Modified is unchanged; an index never maps to
// an empty field list.
type Result struct {
	Added    map[int]instance.Snapshot
	Removed  []int
	Modified map[int][]string
}

// Empty reports whether the diff carries no additions, removals, or
// modifications. Consumers skip all re-render work on an empty diff.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

// String summarizes the diff in the +n -n ~n form used in logs.
func (r Result) String() string {
	return fmt.Sprintf("+%d -%d ~%d", len(r.Added), len(r.Removed), len(r.Modified))
}

// Diff compares two snapshot mappings and classifies every index as
// added, removed, modified, or unchanged. Only the given significant
// fields are compared for indices present in both mappings; values
// are compared after trimming whitespace. With an empty old mapping
// (the first refresh), every index in new is added, never modified.
func Diff(old, new map[int]instance.Snapshot, fields []string) Result {
	res := Result{
		Added:    make(map[int]instance.Snapshot),
		Modified: make(map[int][]string),
	}

	for idx, snap := range new {
		prev, ok := old[idx]
		if !ok {
			res.Added[idx] = snap
			continue
		}
		changed := changedFields(prev, snap, fields)
		if len(changed) > 0 {
			res.Modified[idx] = changed
		}
	}

	for idx := range old {
		if _, ok := new[idx]; !ok {
			res.Removed = append(res.Removed, idx)
		}
	}
	sort.Ints(res.Removed)

	return res
}

// changedFields returns the significant fields whose values differ
// between two snapshots of the same instance.
func changedFields(old, new instance.Snapshot, fields []string) []string {
	var changed []string
	for _, f := range fields {
		if strings.TrimSpace(old.Field(f)) != strings.TrimSpace(new.Field(f)) {
			changed = append(changed, f)
		}
	}
	return changed
}
