package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency is the unit of an escalation wait threshold.
type Frequency string

const (
	FrequencyMinute Frequency = "MINUTE"
	FrequencyHour   Frequency = "HOUR"
	FrequencyDay    Frequency = "DAY"
	FrequencyWeek   Frequency = "WEEK"
)

// Minutes returns how many minutes one unit spans, or 0 for unknown units.
func (f Frequency) Minutes() int {
	switch Frequency(strings.ToUpper(string(f))) {
	case FrequencyMinute:
		return 1
	case FrequencyHour:
		return 60
	case FrequencyDay:
		return 1440
	case FrequencyWeek:
		return 10080
	}
	return 0
}

// MatrixEntry is one (category, level) row of the escalation matrix.
type MatrixEntry struct {
	ID             int64
	TenantID       int64
	CategoryID     int64
	Level          int
	Frequency      Frequency
	FrequencyValue int
	AssignPersonID *int64
	AssignGroupID  *int64
	NotifyEmail    string
	BodyTemplate   string
}

// WaitMinutes normalizes the threshold to minutes.
func (e MatrixEntry) WaitMinutes() int {
	return e.FrequencyValue * e.Frequency.Minutes()
}

// Expiry is the moment a ticket created at createdAt crosses this entry's threshold.
func (e MatrixEntry) Expiry(createdAt time.Time) time.Time {
	return createdAt.Add(time.Duration(e.WaitMinutes()) * time.Minute)
}

// ValidateMatrix checks that entries are unique per (category, level) and that
// each category's levels run 1..n without gaps.
func ValidateMatrix(entries []MatrixEntry) error {
	byCategory := make(map[int64][]int)
	seen := make(map[[2]int64]struct{})
	for _, e := range entries {
		if e.Level < 1 {
			return fmt.Errorf("category %d: level %d must be >= 1", e.CategoryID, e.Level)
		}
		if e.Frequency.Minutes() == 0 || e.FrequencyValue <= 0 {
			return fmt.Errorf("category %d level %d: invalid threshold %d %s", e.CategoryID, e.Level, e.FrequencyValue, e.Frequency)
		}
		if e.AssignPersonID != nil && e.AssignGroupID != nil {
			return fmt.Errorf("category %d level %d: both person and group target set", e.CategoryID, e.Level)
		}
		key := [2]int64{e.CategoryID, int64(e.Level)}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("category %d: duplicate level %d", e.CategoryID, e.Level)
		}
		seen[key] = struct{}{}
		byCategory[e.CategoryID] = append(byCategory[e.CategoryID], e.Level)
	}
	for category, levels := range byCategory {
		sort.Ints(levels)
		for i, lvl := range levels {
			if lvl != i+1 {
				return fmt.Errorf("category %d: levels must be contiguous from 1, missing %d", category, i+1)
			}
		}
	}
	return nil
}

// EscalationCandidate pairs an open ticket with the matrix entry for its next level.
type EscalationCandidate struct {
	Ticket Ticket
	Next   *MatrixEntry
}

// TenantEscalationStats is one tenant's row in an escalation report.
type TenantEscalationStats struct {
	TenantID        int64 `json:"tenant_id"`
	FindingsScanned int   `json:"findings_scanned"`
	Escalated       int   `json:"escalated"`
	AutoCreated     int   `json:"auto_created"`
	Resolved        int   `json:"resolved"`
}
