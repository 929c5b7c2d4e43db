// Package cycle handles weekly match cycle identifiers of the form YYYY-Www,
// where YYYY is the ISO-8601 week-numbering year. Identifiers sort
// lexicographically in chronological order.
package cycle

import (
	"fmt"
	"strconv"
	"time"
)

const week = 7 * 24 * time.Hour

// FromTime returns the cycle containing t, evaluated in UTC.
func FromTime(t time.Time) string {
	year, wk := t.UTC().ISOWeek()
	return Format(year, wk)
}

func Format(year, wk int) string {
	return fmt.Sprintf("%04d-W%02d", year, wk)
}

// Parse splits a cycle identifier and checks that the week exists in that year.
func Parse(id string) (year, wk int, err error) {
	if len(id) != 8 || id[4] != '-' || id[5] != 'W' {
		return 0, 0, fmt.Errorf("invalid cycle %q: want YYYY-Www", id)
	}
	if year, err = strconv.Atoi(id[:4]); err != nil {
		return 0, 0, fmt.Errorf("invalid cycle %q: %w", id, err)
	}
	if wk, err = strconv.Atoi(id[6:]); err != nil {
		return 0, 0, fmt.Errorf("invalid cycle %q: %w", id, err)
	}
	if wk < 1 || wk > 53 {
		return 0, 0, fmt.Errorf("invalid cycle %q: week out of range", id)
	}
	if wk == 53 {
		if y, w := weekOne(year).Add(52 * week).ISOWeek(); y != year || w != 53 {
			return 0, 0, fmt.Errorf("invalid cycle %q: year has 52 weeks", id)
		}
	}
	return year, wk, nil
}

func Valid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}

// Start returns Monday 00:00 UTC of the cycle.
func Start(id string) (time.Time, error) {
	year, wk, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return weekOne(year).Add(time.Duration(wk-1) * week), nil
}

// Add moves n cycles forward (or back for negative n).
func Add(id string, n int) (string, error) {
	start, err := Start(id)
	if err != nil {
		return "", err
	}
	return FromTime(start.Add(time.Duration(n) * week)), nil
}

// LookbackStart returns the oldest cycle inside a window of n cycles that
// ends just before id. For id 2024-W10 and n=4 that is 2024-W06.
func LookbackStart(id string, n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("negative lookback %d", n)
	}
	return Add(id, -n)
}

// weekOne returns the Monday of ISO week 1, the week holding January 4th.
func weekOne(year int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset)
}
