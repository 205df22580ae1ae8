package parser

import (
	"iter"
	"strings"
	"time"

	"meteo-platform/internal/models"
)

// SodarSchema names the header columns of a SODAR wind-profile file
type SodarSchema struct {
	TimeColumn      string
	HeightColumn    string
	SpeedColumn     string
	DirectionColumn string
}

// DefaultSodarSchema matches the files published by the SODAR data logger
var DefaultSodarSchema = SodarSchema{
	TimeColumn:      "time",
	HeightColumn:    "z",
	SpeedColumn:     "speed",
	DirectionColumn: "dir",
}

var sodarTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

type sodarHeader struct {
	width     int
	time      int
	height    int
	speed     int
	direction int
}

// ParseSodar decodes a header-bearing SODAR file. The header is the first line
// with a field equal to the schema's time column; every later line is data.
// stats may be nil.
func ParseSodar(content []byte, schema SodarSchema, stats *Stats) iter.Seq[models.WindSample] {
	if stats == nil {
		stats = &Stats{}
	}

	return func(yield func(models.WindSample) bool) {
		stats.reset()

		lines := splitLines(content)
		at, header, ok := findHeader(lines, schema)
		if !ok {
			return
		}

		for _, line := range lines[at+1:] {
			if strings.TrimSpace(line) == "" {
				continue
			}
			stats.Rows++

			sample, delim, ok := decodeSodarRow(line, header)
			if !ok {
				stats.Dropped++
				continue
			}
			if stats.Delimiter == DelimiterNone {
				stats.Delimiter = delim
			}
			if !sample.DirectionInRange() {
				stats.DirectionOutOfRange++
			}

			stats.Records++
			if !yield(sample) {
				return
			}
		}
	}
}

func findHeader(lines []string, schema SodarSchema) (int, sodarHeader, bool) {
	for i, line := range lines {
		fields := headerFields(line)

		pos := make(map[string]int, len(fields))
		for j, f := range fields {
			pos[strings.ToLower(f)] = j
		}
		if _, ok := pos[strings.ToLower(schema.TimeColumn)]; !ok {
			continue
		}

		h := sodarHeader{width: len(fields)}
		cols := []struct {
			name string
			dst  *int
		}{
			{schema.TimeColumn, &h.time},
			{schema.HeightColumn, &h.height},
			{schema.SpeedColumn, &h.speed},
			{schema.DirectionColumn, &h.direction},
		}
		for _, c := range cols {
			p, ok := pos[strings.ToLower(c.name)]
			if !ok {
				return 0, sodarHeader{}, false
			}
			*c.dst = p
		}
		return i, h, true
	}
	return 0, sodarHeader{}, false
}

func headerFields(line string) []string {
	if strings.Contains(line, "\t") {
		return DelimiterTab.split(line)
	}
	return DelimiterWhitespace.split(line)
}

// decodeSodarRow handles both layouts the logger produces: tab separated with the
// whole datetime in the time column, and whitespace separated where the date and
// clock are two tokens.
func decodeSodarRow(line string, h sodarHeader) (models.WindSample, Delimiter, bool) {
	var (
		fields []string
		delim  Delimiter
		shift  bool
	)

	if strings.Contains(line, "\t") {
		delim = DelimiterTab
		fields = DelimiterTab.split(line)
		if len(fields) < h.width {
			return models.WindSample{}, delim, false
		}
	} else {
		delim = DelimiterWhitespace
		fields = DelimiterWhitespace.split(line)
		switch len(fields) {
		case h.width:
		case h.width + 1:
			shift = true
		default:
			return models.WindSample{}, delim, false
		}
	}

	col := func(i int) string {
		if shift && i > h.time {
			return fields[i+1]
		}
		return fields[i]
	}

	stamp := fields[h.time]
	if shift {
		stamp = fields[h.time] + " " + fields[h.time+1]
	}
	ts, ok := parseSodarTime(stamp)
	if !ok {
		return models.WindSample{}, delim, false
	}

	height, ok := models.CoerceFloat(col(h.height))
	if !ok {
		return models.WindSample{}, delim, false
	}
	speed, ok := models.CoerceFloat(col(h.speed))
	if !ok || speed < 0 {
		return models.WindSample{}, delim, false
	}
	direction, ok := models.CoerceFloat(col(h.direction))
	if !ok {
		return models.WindSample{}, delim, false
	}

	return models.WindSample{
		Timestamp: ts,
		Height:    height,
		Speed:     speed,
		Direction: direction,
	}, delim, true
}

func parseSodarTime(s string) (time.Time, bool) {
	for _, layout := range sodarTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC().Truncate(time.Minute), true
		}
	}
	return time.Time{}, false
}
