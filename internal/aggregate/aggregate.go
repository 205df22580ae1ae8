// Package aggregate computes per-day min/max/mean summaries over readings and
// wind samples. It never mutates its input.
package aggregate

import (
	"cmp"
	"slices"
	"time"

	"meteo-platform/internal/models"
)

// GroupBy selects how points are bucketed
type GroupBy int

const (
	// GroupByDay buckets points by their UTC calendar date
	GroupByDay GroupBy = iota
	// GroupByNone summarizes every selected point as one group
	GroupByNone
)

// Point is one loosely typed measurement. Value goes through models.CoerceFloat;
// values that fail coercion are left out of the statistics.
type Point struct {
	Timestamp time.Time
	Value     any
}

// Options filters and groups an aggregation.
//
// Date restricts the input to one calendar date and guarantees exactly one
// summary for it. From and To are inclusive dates; when both are set every day
// between them is reported, empty or not.
type Options struct {
	GroupBy GroupBy
	Date    *time.Time
	From    *time.Time
	To      *time.Time
}

// ReadingPoints adapts pressure readings for Summarize
func ReadingPoints(readings []models.Reading) []Point {
	points := make([]Point, len(readings))
	for i, r := range readings {
		points[i] = Point{Timestamp: r.Timestamp, Value: r.Pressure}
	}
	return points
}

// Summarize groups points and returns their statistics ascending by date
func Summarize(points []Point, opts Options) []models.DailySummary {
	if opts.GroupBy == GroupByNone {
		var acc accumulator
		for _, p := range points {
			if !opts.accepts(p.Timestamp) {
				continue
			}
			if v, ok := models.CoerceFloat(p.Value); ok {
				acc.add(v)
			}
		}
		return []models.DailySummary{acc.summary(opts.label())}
	}

	groups := make(map[time.Time]*accumulator)
	for _, day := range opts.requiredDays() {
		groups[day] = &accumulator{}
	}
	for _, p := range points {
		if !opts.accepts(p.Timestamp) {
			continue
		}
		acc := bucket(groups, models.DayOf(p.Timestamp))
		if v, ok := models.CoerceFloat(p.Value); ok {
			acc.add(v)
		}
	}

	summaries := make([]models.DailySummary, 0, len(groups))
	for _, day := range sortedDays(groups) {
		summaries = append(summaries, groups[day].summary(day.Format(models.DateLayout)))
	}
	return summaries
}

// WindDaily summarizes wind speed per day along with the mean in-range direction
func WindDaily(samples []models.WindSample, opts Options) []models.WindDailySummary {
	type windAcc struct {
		speed     accumulator
		direction accumulator
	}
	add := func(acc *windAcc, s models.WindSample) {
		acc.speed.add(s.Speed)
		if s.DirectionInRange() {
			acc.direction.add(s.Direction)
		}
	}
	build := func(date string, acc *windAcc) models.WindDailySummary {
		speed := acc.speed.summary(date)
		return models.WindDailySummary{
			Date:         date,
			MinSpeed:     speed.Min,
			MaxSpeed:     speed.Max,
			AvgSpeed:     speed.Avg,
			AvgDirection: acc.direction.mean(),
			Count:        speed.Count,
		}
	}

	if opts.GroupBy == GroupByNone {
		var acc windAcc
		for _, s := range samples {
			if opts.accepts(s.Timestamp) {
				add(&acc, s)
			}
		}
		return []models.WindDailySummary{build(opts.label(), &acc)}
	}

	groups := make(map[time.Time]*windAcc)
	for _, day := range opts.requiredDays() {
		groups[day] = &windAcc{}
	}
	for _, s := range samples {
		if !opts.accepts(s.Timestamp) {
			continue
		}
		day := models.DayOf(s.Timestamp)
		acc, ok := groups[day]
		if !ok {
			acc = &windAcc{}
			groups[day] = acc
		}
		add(acc, s)
	}

	summaries := make([]models.WindDailySummary, 0, len(groups))
	for _, day := range sortedDays(groups) {
		summaries = append(summaries, build(day.Format(models.DateLayout), groups[day]))
	}
	return summaries
}

// Profile averages the samples of one day per height bin, ascending by height
func Profile(samples []models.WindSample, date time.Time) []models.HeightProfile {
	day := models.DayOf(date)

	type heightAcc struct {
		speed     accumulator
		direction accumulator
	}
	groups := make(map[float64]*heightAcc)
	for _, s := range samples {
		if !models.DayOf(s.Timestamp).Equal(day) {
			continue
		}
		acc, ok := groups[s.Height]
		if !ok {
			acc = &heightAcc{}
			groups[s.Height] = acc
		}
		acc.speed.add(s.Speed)
		if s.DirectionInRange() {
			acc.direction.add(s.Direction)
		}
	}

	profile := make([]models.HeightProfile, 0, len(groups))
	for height, acc := range groups {
		profile = append(profile, models.HeightProfile{
			Height:       height,
			AvgSpeed:     *acc.speed.mean(),
			AvgDirection: acc.direction.mean(),
			Samples:      acc.speed.count,
		})
	}
	slices.SortFunc(profile, func(a, b models.HeightProfile) int {
		return cmp.Compare(a.Height, b.Height)
	})
	return profile
}

func (o Options) accepts(t time.Time) bool {
	day := models.DayOf(t)
	if o.Date != nil && !day.Equal(models.DayOf(*o.Date)) {
		return false
	}
	if o.From != nil && day.Before(models.DayOf(*o.From)) {
		return false
	}
	if o.To != nil && day.After(models.DayOf(*o.To)) {
		return false
	}
	return true
}

// requiredDays lists the dates that must appear in the output even when empty
func (o Options) requiredDays() []time.Time {
	if o.Date != nil {
		day := models.DayOf(*o.Date)
		if o.accepts(day) {
			return []time.Time{day}
		}
		return nil
	}
	if o.From == nil || o.To == nil {
		return nil
	}

	var days []time.Time
	for d := models.DayOf(*o.From); !d.After(models.DayOf(*o.To)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (o Options) label() string {
	if o.Date != nil {
		return models.DayOf(*o.Date).Format(models.DateLayout)
	}
	return ""
}

func bucket(groups map[time.Time]*accumulator, day time.Time) *accumulator {
	acc, ok := groups[day]
	if !ok {
		acc = &accumulator{}
		groups[day] = acc
	}
	return acc
}

func sortedDays[V any](groups map[time.Time]V) []time.Time {
	days := make([]time.Time, 0, len(groups))
	for d := range groups {
		days = append(days, d)
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
	return days
}
