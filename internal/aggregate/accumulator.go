package aggregate

import "meteo-platform/internal/models"

type accumulator struct {
	count int
	min   float64
	max   float64
	sum   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

func (a *accumulator) mean() *float64 {
	if a.count == 0 {
		return nil
	}
	avg := a.sum / float64(a.count)
	return &avg
}

// summary renders the accumulated values; an empty group has nil statistics
func (a *accumulator) summary(date string) models.DailySummary {
	s := models.DailySummary{Date: date, Count: a.count}
	if a.count == 0 {
		return s
	}
	lo, hi := a.min, a.max
	s.Min = &lo
	s.Max = &hi
	s.Avg = a.mean()
	return s
}
