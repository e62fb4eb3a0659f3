package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type entry struct {
	name string
	mod  time.Time
}

func entryTime(e entry) time.Time { return e.mod }

func names(es []entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.name)
	}

	return out
}

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return now.Add(-time.Duration(n) * 24 * time.Hour)
}

func TestSelect_ByAgeKeepsNewestAndRecent(t *testing.T) {
	items := []entry{
		{"ten", daysAgo(10)},
		{"zero", daysAgo(0)},
		{"eight", daysAgo(8)},
		{"two", daysAgo(2)},
	}

	keep, prune := Select(items, entryTime, ByAge(7, 1), now)

	assert.Equal(t, []string{"zero", "two"}, names(keep))
	assert.Equal(t, []string{"eight", "ten"}, names(prune))
}

func TestSelect_ByAgeNonPositiveRetentionPrunesAllButKept(t *testing.T) {
	items := []entry{
		{"a", daysAgo(0)},
		{"b", daysAgo(1)},
		{"c", daysAgo(2)},
	}

	keep, prune := Select(items, entryTime, ByAge(0, 2), now)

	assert.Equal(t, []string{"a", "b"}, names(keep))
	assert.Equal(t, []string{"c"}, names(prune))
}

func TestSelect_KeepNewest(t *testing.T) {
	items := []entry{
		{"1", daysAgo(5)},
		{"2", daysAgo(4)},
		{"3", daysAgo(3)},
		{"4", daysAgo(2)},
		{"5", daysAgo(1)},
	}

	keep, prune := Select(items, entryTime, KeepNewest(3), now)

	assert.Equal(t, []string{"5", "4", "3"}, names(keep))
	assert.Equal(t, []string{"2", "1"}, names(prune))
}

func TestSelect_KeepLatestLargerThanInput(t *testing.T) {
	items := []entry{{"only", daysAgo(30)}}

	keep, prune := Select(items, entryTime, KeepNewest(3), now)

	assert.Len(t, keep, 1)
	assert.Empty(t, prune)
}

func TestSelect_ZeroPolicyKeepsEverything(t *testing.T) {
	items := []entry{{"old", daysAgo(400)}, {"new", daysAgo(0)}}

	keep, prune := Select(items, entryTime, Policy{}, now)

	assert.Equal(t, []string{"new", "old"}, names(keep))
	assert.Empty(t, prune)
}

func TestSelect_DoesNotMutateInput(t *testing.T) {
	items := []entry{{"old", daysAgo(3)}, {"new", daysAgo(1)}}

	Select(items, entryTime, KeepNewest(1), now)

	assert.Equal(t, "old", items[0].name)
}
