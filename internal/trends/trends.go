package trends

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"xhale-breath/internal/session"
)

const (
	// DefaultDays length of the trend window, ending today (UTC)
	DefaultDays = 7
	// SmokeFreeThresholdPpm daily median at or below which a day counts as smoke-free
	SmokeFreeThresholdPpm = 3.0

	dayLayout = "2006-01-02"
	// fetchLimit sessions read per trend query
	fetchLimit = 500
)

// DailyMedian median ppm of one UTC day; MedianPpm nil when nothing was measured
type DailyMedian struct {
	Date      string   `json:"date"`
	MedianPpm *float64 `json:"median_ppm"`
}

// Result trend over consecutive days, oldest first
type Result struct {
	Daily               []DailyMedian `json:"daily"`
	SmokeFreeStreakDays int           `json:"smoke_free_streak_days"`
	MeasuredDays        int           `json:"measured_days"`
}

// SessionLister source of a user's sessions
type SessionLister interface {
	ListSessions(ctx context.Context, userID, deviceID string, limit int) ([]*session.Record, error)
}

// Fetch computes the trend of the last DefaultDays for userID
func Fetch(ctx context.Context, lister SessionLister, userID string, now time.Time) (Result, error) {
	records, err := lister.ListSessions(ctx, userID, "", fetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	return Compute(records, now, DefaultDays), nil
}

// Compute buckets records by the UTC day of StartedAt over the days ending
// with now's day and takes the median ppm per day.
func Compute(records []*session.Record, now time.Time, days int) Result {
	if days <= 0 {
		days = DefaultDays
	}
	end := now.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(days - 1))

	byDay := make(map[string][]float64, days)
	for _, r := range records {
		ts, err := session.ParseTimestamp(r.StartedAt)
		if err != nil || ts.Before(start) || !ts.Before(end.Add(24*time.Hour)) {
			continue
		}
		ppm, ok := sessionPpm(r)
		if !ok {
			continue
		}
		day := ts.Format(dayLayout)
		byDay[day] = append(byDay[day], ppm)
	}

	result := Result{Daily: make([]DailyMedian, 0, days)}
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format(dayLayout)
		entry := DailyMedian{Date: day}
		if m, ok := Median(byDay[day]); ok {
			entry.MedianPpm = &m
			result.MeasuredDays++
		}
		result.Daily = append(result.Daily, entry)
	}
	result.SmokeFreeStreakDays = SmokeFreeStreak(result.Daily, SmokeFreeThresholdPpm)
	return result
}

// sessionPpm the session estimate, else the median of its per-point ppm values
func sessionPpm(r *session.Record) (float64, bool) {
	if !math.IsNaN(r.EstimatedPpm) && !math.IsInf(r.EstimatedPpm, 0) && r.EstimatedPpm >= 0 {
		return r.EstimatedPpm, true
	}
	var values []float64
	for _, p := range r.DataPoints {
		if p.COPpm != nil {
			values = append(values, *p.COPpm)
		}
	}
	m, ok := Median(values)
	return m, ok && m >= 0
}

// Median of values; ok is false for an empty slice
func Median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2.0, true
	}
	return sorted[mid], true
}

// SmokeFreeStreak counts measured days at or below threshold backwards from
// the newest day. Unmeasured days neither count nor break the streak.
func SmokeFreeStreak(daily []DailyMedian, threshold float64) int {
	streak := 0
	for i := len(daily) - 1; i >= 0; i-- {
		m := daily[i].MedianPpm
		if m == nil {
			continue
		}
		if *m > threshold {
			break
		}
		streak++
	}
	return streak
}
