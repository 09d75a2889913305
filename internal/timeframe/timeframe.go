// Package timeframe implements the time-window arithmetic behind OHLC
// bucketing: truncating a timestamp to the start of its window, computing
// the window end, and deciding whether a window is complete.
//
// Windows are closed-left, open-right: a timestamp exactly on a boundary
// belongs to the window starting at that boundary.
package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedUnit is returned when a Window carries a unit outside the
// enumerated set. This is a programmer error, not bad input.
var ErrUnsupportedUnit = errors.New("unsupported time unit")

// Unit is the calendar unit of a window.
type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Year   Unit = "year"
)

// ParseUnit maps a wire string to a Unit.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case Second, Minute, Hour, Day, Week, Month, Year:
		return Unit(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, s)
	}
}

// Window is a (size, unit) candle width. It is comparable and therefore
// usable as a map key; equality is structural.
type Window struct {
	Size int  `json:"size"`
	Unit Unit `json:"unit"`
}

// OneSecond is the finest configured timeframe. Every coarser subscription
// implies a shadow subscription at this window.
var OneSecond = Window{Size: 1, Unit: Second}

func (w Window) String() string {
	return fmt.Sprintf("%d%s", w.Size, w.Unit)
}

// Start truncates ts to the beginning of the window containing it.
//
// Sub-day units truncate against wall-clock fields: SECOND truncates
// (minute*60+second) mod size, MINUTE truncates minute mod size, HOUR
// truncates hour mod size. DAY truncates to midnight, WEEK to Monday 00:00
// of the containing ISO week, MONTH to the first of the month, YEAR to
// January 1. All arithmetic is done in UTC.
func (w Window) Start(ts time.Time) (time.Time, error) {
	ts = ts.UTC()
	y, mo, d := ts.Date()

	switch w.Unit {
	case Second:
		total := ts.Minute()*60 + ts.Second()
		total -= total % w.Size
		return time.Date(y, mo, d, ts.Hour(), total/60, total%60, 0, time.UTC), nil
	case Minute:
		return time.Date(y, mo, d, ts.Hour(), ts.Minute()-ts.Minute()%w.Size, 0, 0, time.UTC), nil
	case Hour:
		return time.Date(y, mo, d, ts.Hour()-ts.Hour()%w.Size, 0, 0, 0, time.UTC), nil
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), nil
	case Week:
		// Monday is weekday 0.
		offset := (int(ts.Weekday()) + 6) % 7
		midnight := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		return midnight.AddDate(0, 0, -offset), nil
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC), nil
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedUnit, w.Unit)
	}
}

// End returns the exclusive upper bound of the window beginning at start.
// MONTH and YEAR use calendar semantics (month modulo 12 with year carry,
// day forced to 1; YEAR forces January 1); fixed durations would drift.
func (w Window) End(start time.Time) (time.Time, error) {
	start = start.UTC()

	switch w.Unit {
	case Second:
		return start.Add(time.Duration(w.Size) * time.Second), nil
	case Minute:
		return start.Add(time.Duration(w.Size) * time.Minute), nil
	case Hour:
		return start.Add(time.Duration(w.Size) * time.Hour), nil
	case Day:
		return start.Add(time.Duration(w.Size) * 24 * time.Hour), nil
	case Week:
		return start.Add(time.Duration(w.Size) * 7 * 24 * time.Hour), nil
	case Month:
		month0 := int(start.Month()) - 1 + w.Size
		return time.Date(start.Year()+month0/12, time.Month(month0%12+1), 1, 0, 0, 0, 0, time.UTC), nil
	case Year:
		return time.Date(start.Year()+w.Size, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedUnit, w.Unit)
	}
}

// IsComplete reports whether now has reached the end of the window
// beginning at start. The comparison is >=: a trade exactly on the boundary
// closes the previous window and opens the next.
func (w Window) IsComplete(start, now time.Time) (bool, error) {
	end, err := w.End(start)
	if err != nil {
		return false, err
	}
	return !now.UTC().Before(end), nil
}
