// Package retention decides which members of a group of timestamped entries
// to prune. One Policy type serves every rotation in the program: tagged
// cloud backups, downloaded installers, and local snapshot archives.
package retention

import (
	"sort"
	"time"
)

// Policy describes what to keep. The KeepLatest newest entries are always
// kept. Among the rest, an entry is pruned when PruneAll is set or when it is
// at least MaxAge old. A zero Policy keeps everything.
type Policy struct {
	KeepLatest int
	MaxAge     time.Duration
	PruneAll   bool
}

// KeepNewest keeps the n most recent entries and prunes everything else.
func KeepNewest(n int) Policy {
	return Policy{KeepLatest: n, PruneAll: true}
}

// ByAge keeps the keepLatest newest entries and prunes the rest once they are
// retentionDays old. retentionDays <= 0 prunes every entry beyond keepLatest.
func ByAge(retentionDays, keepLatest int) Policy {
	if retentionDays <= 0 {
		return Policy{KeepLatest: keepLatest, PruneAll: true}
	}

	return Policy{
		KeepLatest: keepLatest,
		MaxAge:     time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Select partitions items into those to keep and those to prune, evaluated at
// now. modTime extracts the timestamp used for ordering and aging. Both
// returned slices are ordered newest first; the input is not modified.
func Select[T any](items []T, modTime func(T) time.Time, p Policy, now time.Time) (keep, prune []T) {
	sorted := make([]T, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		return modTime(sorted[i]).After(modTime(sorted[j]))
	})

	for i, item := range sorted {
		if i < p.KeepLatest {
			keep = append(keep, item)
			continue
		}

		if p.PruneAll || (p.MaxAge > 0 && now.Sub(modTime(item)) >= p.MaxAge) {
			prune = append(prune, item)
			continue
		}

		keep = append(keep, item)
	}

	return keep, prune
}
