// Package cron implements the C8 scheduling grammar: a 5-field cron
// matcher (minute hour day month day_of_week) plus a Scheduler that
// drives jobs either on a cron expression or a fixed interval,
// grounded on main.py's ConfigDrivenCollector: _cron_matches_now,
// _cron_field_matches, _cron_token_matches and _normalize_cron_number.
package cron

import (
	"strconv"
	"strings"
	"time"
)

// monthNames and weekdayNames let the month and day-of-week fields use
// the three-letter names operators actually write in a crontab
// ("mon-fri") instead of forcing every schedule down to numbers.
var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Matches reports whether a 5-field cron expression (minute hour day
// month day_of_week) matches now, supporting *, */n, a, a-b, a,b,c and
// a-b/n tokens in every field, plus three-letter month/weekday names in
// the month and day_of_week fields (e.g. "mon-fri", "jan,jul"). An
// expression that doesn't split into exactly 5 fields matches
// unconditionally, the same fail-open choice _cron_matches_now makes
// for a malformed schedule rather than never running the job at all.
// now is evaluated as given; callers that need a specific IANA zone
// (Scheduler does, via Job.TZ) must convert it first.
func Matches(expr string, now time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return true
	}

	minute, hour, day, month, dayOfWeek := fields[0], fields[1], fields[2], fields[3], fields[4]
	cronWeekday := int(now.Weekday()) // time.Sunday == 0, already cron-compatible

	return fieldMatches(minute, now.Minute(), 0, 59, false, nil) &&
		fieldMatches(hour, now.Hour(), 0, 23, false, nil) &&
		fieldMatches(day, now.Day(), 1, 31, false, nil) &&
		fieldMatches(month, int(now.Month()), 1, 12, false, monthNames) &&
		fieldMatches(dayOfWeek, cronWeekday, 0, 7, true, weekdayNames)
}

// fieldMatches reports whether any comma-separated token in field
// matches value. names, when non-nil, lets a token spell its bound(s)
// as a name (e.g. "mon") instead of a number.
func fieldMatches(field string, value, min, max int, isDayOfWeek bool, names map[string]int) bool {
	for _, token := range strings.Split(field, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if tokenMatches(token, value, min, max, isDayOfWeek, names) {
			return true
		}
	}
	return false
}

// normalizeDayOfWeek folds cron's alternate Sunday=7 spelling onto 0,
// the only number fieldMatches's 0-7 range admits twice.
func normalizeDayOfWeek(num int, isDayOfWeek bool) int {
	if isDayOfWeek && num == 7 {
		return 0
	}
	return num
}

// parseBound parses one side of a range or a bare token: a plain
// integer first, falling back to names (case-insensitive) when the
// token isn't numeric.
func parseBound(s string, names map[string]int) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if names == nil {
		return 0, false
	}
	n, ok := names[strings.ToLower(s)]
	return n, ok
}

// tokenMatches evaluates a single token: *, */step, a, a-b or a-b/step,
// where a and b may be numbers or (for month/day_of_week) names.
func tokenMatches(token string, value, min, max int, isDayOfWeek bool, names map[string]int) bool {
	if token == "*" {
		return true
	}

	step := 1
	rangePart := token
	if idx := strings.IndexByte(token, '/'); idx >= 0 {
		rangePart = token[:idx]
		s, err := strconv.Atoi(token[idx+1:])
		if err != nil || s <= 0 {
			return false
		}
		step = s
	}

	var start, end int
	switch {
	case rangePart == "*":
		start, end = min, max
	case strings.Contains(rangePart, "-"):
		parts := strings.SplitN(rangePart, "-", 2)
		s, ok1 := parseBound(parts[0], names)
		e, ok2 := parseBound(parts[1], names)
		if !ok1 || !ok2 {
			return false
		}
		start, end = s, e
	default:
		target, ok := parseBound(rangePart, names)
		if !ok {
			return false
		}
		return value == normalizeDayOfWeek(target, isDayOfWeek)
	}

	if start < min || end > max || start > end {
		return false
	}
	// Sunday arrives as 0 but is also reachable as 7 at a range's end.
	if isDayOfWeek && value == 0 && end == 7 && (7-start)%step == 0 {
		return true
	}
	if value < start || value > end {
		return false
	}
	return (value-start)%step == 0
}
