package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time parsed from "HH:MM" or "HH:MM:SS".
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" with hour 0-23 and minute and
// second 0-59.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	matches := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM or HH:MM:SS", s)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])
	second := 0
	if matches[3] != "" {
		second, _ = strconv.Atoi(matches[3])
	}

	if hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour: %d", hour)
	}
	if minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute: %d", minute)
	}
	if second > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid second: %d", second)
	}

	return TimeOfDay{Hour: hour, Minute: minute, Second: second}, nil
}

// Offset returns the time elapsed since midnight.
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second
}

// On returns this time of day on the calendar date of day (plus addDays) in loc.
func (t TimeOfDay) On(day time.Time, addDays int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+addDays, t.Hour, t.Minute, t.Second, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

var weekdayTokens = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekday parses one of mon, tue, wed, thu, fri, sat, sun.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdayTokens[s]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q: expected one of mon, tue, wed, thu, fri, sat, sun", s)
	}
	return wd, nil
}

// parseWeekdays returns the set of configured weekdays.
func parseWeekdays(tokens []string) (map[time.Weekday]struct{}, error) {
	set := make(map[time.Weekday]struct{}, len(tokens))
	for _, token := range tokens {
		wd, err := ParseWeekday(token)
		if err != nil {
			return nil, err
		}
		set[wd] = struct{}{}
	}
	return set, nil
}

// sinceMidnight returns the wall-clock offset of t from its local midnight.
func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// CheckTimeInRange reports whether now, seen in loc, falls on one of the
// condition's weekdays and inside its [after, before) window. A window whose
// before is not later than its after spans midnight. Malformed conditions never
// match.
func CheckTimeInRange(c *TimeCondition, now time.Time, loc *time.Location) bool {
	if c == nil {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	if c.After == nil && c.Before == nil && len(c.Weekdays) == 0 {
		return false
	}

	if len(c.Weekdays) > 0 {
		days, err := parseWeekdays(c.Weekdays)
		if err != nil {
			return false
		}
		if _, ok := days[now.Weekday()]; !ok {
			return false
		}
	}

	if c.After == nil && c.Before == nil {
		return true
	}

	t := sinceMidnight(now)

	var after, before time.Duration
	if c.After != nil {
		tod, err := ParseTimeOfDay(*c.After)
		if err != nil {
			return false
		}
		after = tod.Offset()
	}
	if c.Before != nil {
		tod, err := ParseTimeOfDay(*c.Before)
		if err != nil {
			return false
		}
		before = tod.Offset()
	}

	switch {
	case c.After != nil && c.Before != nil:
		if before <= after {
			return t >= after || t < before
		}
		return t >= after && t < before
	case c.After != nil:
		return t >= after
	default:
		return t < before
	}
}

// NextTimeUpdate returns how long to wait from now until the condition's
// result could next change: the nearest strictly future occurrence of after,
// of before, or of local midnight when the condition is restricted to some but
// not all weekdays. It returns false when there is no such boundary or the
// condition is malformed.
func NextTimeUpdate(c *TimeCondition, now time.Time, loc *time.Location) (time.Duration, bool) {
	if c == nil {
		return 0, false
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	var next time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(next) {
			next = t
			found = true
		}
	}

	for _, s := range []*string{c.After, c.Before} {
		if s == nil {
			continue
		}
		tod, err := ParseTimeOfDay(*s)
		if err != nil {
			return 0, false
		}
		boundary := tod.On(now, 0, loc)
		if !boundary.After(now) {
			boundary = tod.On(now, 1, loc)
		}
		consider(boundary)
	}

	if len(c.Weekdays) > 0 {
		days, err := parseWeekdays(c.Weekdays)
		if err != nil {
			return 0, false
		}
		if len(days) < 7 {
			consider(time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc))
		}
	}

	if !found {
		return 0, false
	}
	return next.Sub(now), true
}
