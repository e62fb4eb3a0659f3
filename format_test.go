package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/host"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1500, "1.5 kB"},
		{"megabytes", 5_000_000, "5.0 MB"},
		{"negative clamps", -1, "0 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "never", formatTime(time.Time{}))
	})
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "never", formatAge(time.Time{}))
	assert.Contains(t, formatAge(time.Now().Add(-3*time.Hour)), "hours ago")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := [][]string{
		{"kams_backup_D1_20260710_120000.json", "1.2 MB", "Jul 10 12:00"},
		{"kams_backup_D1_20260709_120000.json", "0 B", "Jul  9 12:00"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Equal(t, strings.Index(lines[0], "SIZE"), strings.Index(lines[1], "1.2 MB"), "columns align")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"keep": 3}))
	assert.Equal(t, "{\n  \"keep\": 3\n}\n", buf.String())
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, resultErr(host.Result{OK: true}))

	err := resultErr(host.Result{Kind: fault.NetworkFailure, Message: "offline"})
	require.Error(t, err)
	assert.Equal(t, "offline", err.Error())
}
