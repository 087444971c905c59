// Package convert parses the loose value grammar the voice platform
// produces for date, time, and duration slots.
package convert

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrBadDuration indicates a duration slot did not hold an ISO-8601
// duration.
var ErrBadDuration = errors.New("convert: not an ISO-8601 duration")

var (
	fullDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	// "this week", "next week": 2015-W48
	weekRe = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	// "this weekend": 2015-W48-WE
	weekendRe = regexp.MustCompile(`^(\d{4})-W(\d{2})-WE$`)
	// "this month": 2015-11
	monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)
	// "next year": 2016
	yearRe = regexp.MustCompile(`^\d{4}$`)

	durationRe = regexp.MustCompile(
		`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
)

// Date parses a platform date token into a calendar date (UTC midnight).
// Tokens cover bare dates, week and weekend forms, months, years, and
// decades ("197X"). Unrecognized input reports ok=false, not an error.
func Date(token string) (time.Time, bool) {
	// Make "next decade" tokens match the year form.
	if strings.HasSuffix(token, "X") {
		token = token[:len(token)-1] + "0"
	}

	switch {
	case fullDateRe.MatchString(token):
		return parseOK("2006-01-02", token)
	case monthRe.MatchString(token):
		return parseOK("2006-01", token)
	case yearRe.MatchString(token):
		return parseOK("2006", token)
	}

	if m := weekendRe.FindStringSubmatch(token); m != nil {
		// Weekend of that week: the Saturday.
		return isoWeekStart(atoi(m[1]), atoi(m[2])).AddDate(0, 0, 5), true
	}
	if m := weekRe.FindStringSubmatch(token); m != nil {
		return isoWeekStart(atoi(m[1]), atoi(m[2])), true
	}
	return time.Time{}, false
}

// Time parses a platform time token into a clock time on the zero date.
// Coarse day-part tokens map to fixed hours; anything else must be an
// ISO clock time. Unrecognized input reports ok=false.
func Time(token string) (time.Time, bool) {
	dayParts := map[string]int{
		"AM": 0, "PM": 12, "MO": 5, "AF": 12, "EV": 17, "NI": 21,
	}
	if hour, ok := dayParts[token]; ok {
		return clock(hour, 0, 0), true
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, token); err == nil {
			return clock(t.Hour(), t.Minute(), t.Second()), true
		}
	}
	return time.Time{}, false
}

// Duration parses an ISO-8601 duration ("PT10M", "P3DT2H") into a
// time.Duration. Years count as 365 days and months as 30, matching the
// coarse calendar arithmetic of duration slots.
func Duration(token string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(token)
	if m == nil || token == "P" || token == "" {
		return 0, ErrBadDuration
	}
	var total time.Duration
	total += time.Duration(atoi(m[1])) * 365 * 24 * time.Hour
	total += time.Duration(atoi(m[2])) * 30 * 24 * time.Hour
	total += time.Duration(atoi(m[3])) * 7 * 24 * time.Hour
	total += time.Duration(atoi(m[4])) * 24 * time.Hour
	total += time.Duration(atoi(m[5])) * time.Hour
	total += time.Duration(atoi(m[6])) * time.Minute
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return 0, ErrBadDuration
		}
		total += time.Duration(secs * float64(time.Second))
	}
	return total, nil
}

func parseOK(layout, value string) (time.Time, bool) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// isoWeekStart returns the Monday of the given ISO-8601 week.
func isoWeekStart(year, week int) time.Time {
	// Jan 4 is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

func clock(h, m, s int) time.Time {
	return time.Date(0, time.January, 1, h, m, s, 0, time.UTC)
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
