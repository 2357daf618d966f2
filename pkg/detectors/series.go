package detectors

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// Series is a time-ordered sequence of numeric observations.
type Series struct {
	Times  []time.Time
	Values []float64
}

func (s Series) Len() int {
	return len(s.Values)
}

// Last returns the final point.
func (s Series) Last() (time.Time, float64) {
	n := s.Len()
	return s.Times[n-1], s.Values[n-1]
}

// Head returns the series without its final point.
func (s Series) Head() Series {
	n := s.Len()
	if n == 0 {
		return s
	}
	return Series{Times: s.Times[:n-1], Values: s.Values[:n-1]}
}

func (s Series) splitLast(minHistory int) ([]float64, float64, error) {
	if s.Len()-1 < minHistory {
		return nil, 0, fmt.Errorf("%w: need at least %d historical points, got %d", ErrInsufficientData, minHistory, max(s.Len()-1, 0))
	}
	_, latest := s.Last()
	return s.Head().Values, latest, nil
}

type point struct {
	t time.Time
	v float64
}

// SeriesFromResult reads the first column as time and the last column as the
// value. Rows with a NULL value are skipped; points are sorted by time.
func SeriesFromResult(r *datasource.Result) (Series, error) {
	if r == nil || r.Failed() {
		return Series{}, fmt.Errorf("no result to read a series from")
	}
	if len(r.Columns) < 2 {
		return Series{}, fmt.Errorf("series needs a time column and a value column, got %d columns", len(r.Columns))
	}

	points := make([]point, 0, len(r.Rows))
	last := len(r.Columns) - 1
	for i, row := range r.Rows {
		if len(row) <= last || row[last] == nil {
			continue
		}
		t, err := toTime(row[0])
		if err != nil {
			return Series{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := toFloat(row[last])
		if err != nil {
			return Series{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		points = append(points, point{t: t, v: v})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].t.Before(points[j].t) })

	s := Series{Times: make([]time.Time, len(points)), Values: make([]float64, len(points))}
	for i, p := range points {
		s.Times[i] = p.t
		s.Values[i] = p.v
	}
	return s, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case datasource.Date:
		return t.Time, nil
	case []byte:
		return toTime(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot read %q as a time", s)
	}
	return time.Time{}, fmt.Errorf("cannot read %T as a time", v)
}

// ToFloat converts a result cell to a float64.
func ToFloat(v any) (float64, error) {
	return toFloat(v)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		return finite(t.Float64())
	case string:
		return finite(strconv.ParseFloat(strings.TrimSpace(t), 64))
	case []byte:
		return finite(strconv.ParseFloat(strings.TrimSpace(string(t)), 64))
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float(), nil)
	}
	return 0, fmt.Errorf("cannot read %T as a number", v)
}

// finite rejects NaN and infinities, which compare false against every bound.
func finite(f float64, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("value is NaN")
	}
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is infinite")
	}
	return f, nil
}
