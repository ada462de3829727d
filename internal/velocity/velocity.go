// Package velocity provides rolling-window calculations over event times.
// All inputs are materialized in-memory collections; the scan pipeline never
// touches I/O while a detector is running.
package velocity

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Event is a timestamped key, e.g. a login attempt's source address.
type Event struct {
	At  time.Time
	Key string
}

// Point is a timestamped decimal value, e.g. a daily transaction total.
type Point struct {
	At    time.Time
	Value decimal.Decimal
}

// SortTimes sorts times ascending in place and returns the slice.
func SortTimes(times []time.Time) []time.Time {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// MaxCount returns the largest number of events falling inside any rolling
// window of the given length. times must be sorted ascending. A window
// covers events whose span is at most the window length (inclusive).
func MaxCount(times []time.Time, window time.Duration) int {
	best := 0
	i := 0
	for j := range times {
		for times[j].Sub(times[i]) > window {
			i++
		}
		if n := j - i + 1; n > best {
			best = n
		}
	}
	return best
}

// CountSince returns how many times fall at or after the cutoff.
// times must be sorted ascending.
func CountSince(times []time.Time, cutoff time.Time) int {
	idx := sort.Search(len(times), func(i int) bool { return !times[i].Before(cutoff) })
	return len(times) - idx
}

// MaxDistinct returns the largest number of distinct keys observed inside
// any rolling window. events must be sorted ascending by time.
func MaxDistinct(events []Event, window time.Duration) int {
	best := 0
	counts := make(map[string]int)
	i := 0
	for j := range events {
		counts[events[j].Key]++
		for events[j].At.Sub(events[i].At) > window {
			counts[events[i].Key]--
			if counts[events[i].Key] == 0 {
				delete(counts, events[i].Key)
			}
			i++
		}
		if len(counts) > best {
			best = len(counts)
		}
	}
	return best
}

// Distinct returns the number of distinct keys across all events.
func Distinct(events []Event) int {
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		seen[e.Key] = true
	}
	return len(seen)
}

// MaxSum returns the largest sum of point values inside any rolling window.
// points must be sorted ascending by time.
func MaxSum(points []Point, window time.Duration) decimal.Decimal {
	best := decimal.Zero
	sum := decimal.Zero
	i := 0
	for j := range points {
		sum = sum.Add(points[j].Value)
		for points[j].At.Sub(points[i].At) > window {
			sum = sum.Sub(points[i].Value)
			i++
		}
		if sum.GreaterThan(best) {
			best = sum
		}
	}
	return best
}

// Day truncates a time to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DistinctDays returns the number of distinct UTC calendar days covered.
func DistinctDays(times []time.Time) int {
	seen := make(map[time.Time]bool, len(times))
	for _, t := range times {
		seen[Day(t)] = true
	}
	return len(seen)
}
