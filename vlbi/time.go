package vlbi

import "time"

const (
	secondsPerDay = 86400
	// mjdEpochUnix is 1858-11-17T00:00:00Z in Unix seconds.
	mjdEpochUnix = -3506716800
)

// TimeFromMJD returns the UTC time ns nanoseconds into Modified Julian Day day.
func TimeFromMJD(day int, ns int64) time.Time {
	return time.Unix(mjdEpochUnix+int64(day)*secondsPerDay, ns).UTC()
}

// MJD splits t into its Modified Julian Day and nanoseconds into that day.
func MJD(t time.Time) (day int, ns int64) {
	secs := t.Unix() - mjdEpochUnix
	d := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		d--
	}
	sod := secs - d*secondsPerDay
	return int(d), sod*int64(time.Second) + int64(t.Nanosecond())
}

// MJDFloat is t as a fractional Modified Julian Date.
func MJDFloat(t time.Time) float64 {
	day, ns := MJD(t)
	return float64(day) + float64(ns)/float64(secondsPerDay*int64(time.Second))
}
