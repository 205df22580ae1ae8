// Package parser turns raw sensor text files into canonical records.
//
// Parsing never fails: rows that cannot be decoded are dropped and counted in
// Stats, and a file that cannot be decoded at all yields an empty sequence.
package parser

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"meteo-platform/internal/models"
)

// Delimiter identifies the field separation strategy chosen for a file
type Delimiter string

const (
	DelimiterNone       Delimiter = ""
	DelimiterWhitespace Delimiter = "whitespace"
	DelimiterComma      Delimiter = "comma"
	DelimiterTab        Delimiter = "tab"
)

func (d Delimiter) split(line string) []string {
	switch d {
	case DelimiterWhitespace:
		return strings.Fields(line)
	case DelimiterComma:
		return trimAll(strings.Split(line, ","))
	case DelimiterTab:
		return trimAll(strings.Split(line, "\t"))
	default:
		return nil
	}
}

func trimAll(parts []string) []string {
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Stats describes what happened while a file was parsed
type Stats struct {
	Rows                int
	Records             int
	Dropped             int
	DirectionOutOfRange int
	Delimiter           Delimiter
}

func (s *Stats) reset() {
	*s = Stats{}
}

// Schema names the columns of a headerless barometer file in order.
// It must contain year, month, day, hour, minute, second and the measurement column.
type Schema struct {
	Columns []string
	Measure string
}

// BarometerSchema is the column layout of the microbarometer logger files
var BarometerSchema = Schema{
	Columns: []string{"year", "month", "day", "hour", "minute", "second", "pressure"},
	Measure: "pressure",
}

var timestampColumns = [6]string{"year", "month", "day", "hour", "minute", "second"}

type schemaIndex struct {
	width   int
	clock   [6]int
	measure int
}

func (s Schema) index() (schemaIndex, error) {
	pos := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		pos[c] = i
	}

	idx := schemaIndex{width: len(s.Columns)}
	for i, name := range timestampColumns {
		p, ok := pos[name]
		if !ok {
			return idx, fmt.Errorf("schema is missing column %q", name)
		}
		idx.clock[i] = p
	}

	p, ok := pos[s.Measure]
	if !ok {
		return idx, fmt.Errorf("schema is missing measurement column %q", s.Measure)
	}
	idx.measure = p

	return idx, nil
}

// ParseBarometer decodes a headerless barometer file.
// Fields are split on whitespace runs; if no row of the file decodes that way,
// commas are tried instead. stats may be nil.
func ParseBarometer(content []byte, schema Schema, stats *Stats) iter.Seq[models.Reading] {
	if stats == nil {
		stats = &Stats{}
	}

	return func(yield func(models.Reading) bool) {
		stats.reset()

		idx, err := schema.index()
		if err != nil {
			return
		}

		lines := splitLines(content)
		stats.Delimiter = detectDelimiter(lines, idx)

		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			stats.Rows++

			reading, ok := decodeBarometerRow(stats.Delimiter.split(line), idx)
			if !ok {
				stats.Dropped++
				continue
			}

			stats.Records++
			if !yield(reading) {
				return
			}
		}
	}
}

func decodeBarometerRow(fields []string, idx schemaIndex) (models.Reading, bool) {
	if len(fields) != idx.width {
		return models.Reading{}, false
	}

	var c [6]int
	for i, p := range idx.clock {
		v, ok := parseComponent(fields[p])
		if !ok {
			return models.Reading{}, false
		}
		c[i] = v
	}

	ts, ok := buildTimestamp(c)
	if !ok {
		return models.Reading{}, false
	}

	pressure, ok := models.CoerceFloat(fields[idx.measure])
	if !ok {
		return models.Reading{}, false
	}

	return models.Reading{Timestamp: ts, Pressure: pressure}, true
}

// buildTimestamp zero-pads the components and parses them strictly, so
// out-of-range values (month 13, minute 61, 5-digit years) are rejected.
func buildTimestamp(c [6]int) (time.Time, bool) {
	s := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", c[0], c[1], c[2], c[3], c[4], c[5])
	ts, err := time.ParseInLocation(models.TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// parseComponent accepts integers and integral floats ("7", "7.0")
func parseComponent(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1e9 {
		return 0, false
	}
	return int(f), true
}

// detectDelimiter picks the first strategy under which some row of the file
// decodes cleanly.
func detectDelimiter(lines []string, idx schemaIndex) Delimiter {
	for _, d := range []Delimiter{DelimiterWhitespace, DelimiterComma} {
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, ok := decodeBarometerRow(d.split(line), idx); ok {
				return d
			}
		}
	}
	return DelimiterNone
}

func splitLines(content []byte) []string {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return strings.Split(text, "\n")
}
