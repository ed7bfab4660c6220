// Package progress extracts transfer progress from hypervisor task logs.
package progress

import (
	"regexp"
	"strconv"

	"nathanbeddoewebdev/vpsd/internal/units"
)

// MaxPercent is the highest value Parse reports. Only a terminal task
// state may report completion.
const MaxPercent = 99.9

var transferPattern = regexp.MustCompile(
	`transferred\s+([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z]+)\s+of\s+([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z]+)(?:\s*\(([0-9]+(?:\.[0-9]+)?)%\))?`,
)

// Transfer is the latest progress marker found in a task log.
type Transfer struct {
	CurrentBytes int64   `json:"current_bytes"`
	TotalBytes   int64   `json:"total_bytes"`
	Percent      float64 `json:"percent"`
	// Reported is the percentage printed by the hypervisor, if any. It is
	// informational; Percent is always derived from the byte counts.
	Reported float64 `json:"reported,omitempty"`
	Current  string  `json:"current"`
	Total    string  `json:"total"`
}

// Parse scans lines (oldest first) from newest to oldest and returns the
// first transfer marker it finds. The boolean is false when no line
// carries usable progress, which callers treat as "unknown".
func Parse(lines []string) (Transfer, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if t, ok := parseLine(lines[i]); ok {
			return t, true
		}
	}
	return Transfer{}, false
}

func parseLine(line string) (Transfer, bool) {
	m := transferPattern.FindStringSubmatch(line)
	if m == nil {
		return Transfer{}, false
	}

	current, ok := toBytes(m[1], m[2])
	if !ok {
		return Transfer{}, false
	}
	total, ok := toBytes(m[3], m[4])
	if !ok || total <= 0 {
		return Transfer{}, false
	}

	t := Transfer{
		CurrentBytes: current,
		TotalBytes:   total,
		Percent:      min(float64(current)/float64(total)*100, MaxPercent),
		Current:      units.FormatBytes(current),
		Total:        units.FormatBytes(total),
	}
	if m[5] != "" {
		t.Reported, _ = strconv.ParseFloat(m[5], 64)
	}
	return t, true
}

func toBytes(num, unit string) (int64, bool) {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	b, err := units.ToBytes(v, unit)
	if err != nil {
		return 0, false
	}
	return b, true
}
