package scheduler

import (
	"testing"
	"time"
)

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	// Bluetooth scans every 8s per config.Default's collector intervals.
	s := Every(8 * time.Second)
	next := s.Next(now)
	if !next.Equal(now.Add(8 * time.Second)) {
		t.Errorf("Expected %v, got %v", now.Add(8*time.Second), next)
	}
}

func TestIntervalScheduleAdvancesFromWhateverTimeItsGiven(t *testing.T) {
	// executeTask re-derives nextRun from the time the task last
	// finished, not from a fixed origin, so each Next call advances
	// exactly one Interval from whatever time it is handed.
	s := Every(3 * time.Second)

	first := s.Next(time.Unix(0, 0))
	second := s.Next(first)

	if second.Sub(first) != 3*time.Second {
		t.Errorf("successive Next calls should stay exactly Interval apart, got %v", second.Sub(first))
	}
}
