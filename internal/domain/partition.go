package domain

import "time"

// AllTimeBucket labels the unpartitioned aggregate bucket.
const AllTimeBucket = "all"

// MonthlyPartition returns the integer partition year*100 + month.
func MonthlyPartition(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// DailyPartition returns the integer partition YYYYMMDD.
func DailyPartition(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// NextMonth advances t by one calendar month, clamping to the last day of
// the target month (Jan 31 + 1 month = Feb 28/29).
func NextMonth(t time.Time) time.Time {
	t = t.UTC()
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	lastDay := daysIn(firstOfNext.Year(), firstOfNext.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
