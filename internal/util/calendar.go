package util

import "time"

// IsBusinessDay reports whether t falls on Monday through Friday. Exchange
// holidays are not modelled.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextBusinessDay returns the first business day strictly after t, keeping
// t's time of day.
func NextBusinessDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for !IsBusinessDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// LastBusinessDay returns the latest business day on or before t, keeping
// t's time of day.
func LastBusinessDay(t time.Time) time.Time {
	for !IsBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// BusinessDaysAfter returns the n business days following t.
func BusinessDaysAfter(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	d := t
	for len(out) < n {
		d = NextBusinessDay(d)
		out = append(out, d)
	}
	return out
}
