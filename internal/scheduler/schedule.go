package scheduler

import "time"

// IntervalSchedule runs a task at a fixed interval — the only schedule shape
// this engine's tasks need: every polled collector scans on a fixed period
// (by default the Link-Layer collector every 5s, Bluetooth every 8s,
// Topology every 30s, the lifecycle tick every 5s, per config.Default), and
// nothing in this domain runs on a calendar.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an interval schedule.
func Every(d time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: d}
}

// Next returns the next run time.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.Interval)
}
