// Package window turns a user-provided window string into a scope kind,
// a key, and inclusive calendar bounds, and derives the millisecond
// timestamp range used by the rest of the crawl engine.
package window

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/manuroe/matrixminer/internal/crawlerr"
)

// Kind identifies which of the five accepted window forms was parsed.
type Kind string

const (
	Year  Kind = "year"
	Month Kind = "month"
	Week  Kind = "week"
	Day   Kind = "day"
	Life  Kind = "life"
)

// Scope is a parsed temporal window: an inclusive [From, To] calendar
// range plus the kind and key the user supplied.
type Scope struct {
	Kind Kind
	Key  string
	From time.Time // calendar date at 00:00 UTC
	To   time.Time
}

var (
	yearRe  = regexp.MustCompile(`^\d{4}$`)
	monthRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	weekRe  = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	dayRe   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// Parse accepts exactly five forms (year, month, ISO week, day, "life"),
// trimming surrounding whitespace first. Any other input, or a week that
// does not actually fall in the requested year, is an InputValidationError.
func Parse(raw string) (Scope, error) {
	s := strings.TrimSpace(raw)

	if s == "life" {
		today := time.Now().Local()
		return Scope{
			Kind: Life,
			Key:  "life",
			From: dateOnly(1970, 1, 1),
			To:   dateOnly(today.Year(), int(today.Month()), today.Day()),
		}, nil
	}

	if yearRe.MatchString(s) {
		year, _ := strconv.Atoi(s)
		if year < 1970 || year > 2099 {
			return Scope{}, invalidFormat(raw)
		}
		return Scope{
			Kind: Year,
			Key:  s,
			From: dateOnly(year, 1, 1),
			To:   dateOnly(year, 12, 31),
		}, nil
	}

	if m := monthRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if year < 1970 || year > 2099 || month < 1 || month > 12 {
			return Scope{}, invalidFormat(raw)
		}
		from := dateOnly(year, month, 1)
		to := from.AddDate(0, 1, -1)
		return Scope{Kind: Month, Key: s, From: from, To: to}, nil
	}

	if m := weekRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(m[2])
		if year < 1970 || year > 2099 || week < 1 || week > 53 {
			return Scope{}, invalidFormat(raw)
		}
		from, to, ok := isoWeekRange(year, week)
		if !ok {
			return Scope{}, invalidFormat(raw)
		}
		return Scope{Kind: Week, Key: s, From: from, To: to}, nil
	}

	if m := dayRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		d := dateOnly(year, month, day)
		// dateOnly normalizes out-of-range days (e.g. Feb 30) by rolling
		// over into the next month; reject those instead of silently
		// accepting a different date than the caller asked for.
		if d.Year() != year || int(d.Month()) != month || d.Day() != day {
			return Scope{}, invalidFormat(raw)
		}
		return Scope{Kind: Day, Key: s, From: d, To: d}, nil
	}

	return Scope{}, invalidFormat(raw)
}

func invalidFormat(raw string) error {
	return crawlerr.NewInputValidation(
		"invalid window format: %q. Expected one of: YYYY, YYYY-MM, YYYY-Www, YYYY-MM-DD, or \"life\"", raw)
}

func dateOnly(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// isoWeekRange computes the Monday..Sunday range of ISO week `week` in
// `year`, rejecting weeks that don't actually belong to that ISO year
// (the week-53-overlap case).
func isoWeekRange(year, week int) (from, to time.Time, ok bool) {
	jan4 := dateOnly(year, 1, 4)
	// ISO weekday: Monday=1..Sunday=7.
	isoWeekday := int(jan4.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, -(isoWeekday - 1))
	from = week1Monday.AddDate(0, 0, (week-1)*7)
	to = from.AddDate(0, 0, 6)

	fromISOYear, _ := from.ISOWeek()
	toISOYear, _ := to.ISOWeek()
	if fromISOYear != year && toISOYear != year {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// TimestampRange derives the UTC millisecond [start, end] range for the
// scope. start is nil for Life ("no lower bound"); end is always the
// instant 23:59:59.999 UTC of To.
func (s Scope) TimestampRange() (start *int64, end int64) {
	if s.Kind != Life {
		ms := time.Date(s.From.Year(), s.From.Month(), s.From.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
		start = &ms
	}
	end = time.Date(s.To.Year(), s.To.Month(), s.To.Day(), 23, 59, 59, 999*int(time.Millisecond), time.UTC).UnixMilli()
	return start, end
}

// MillisToUTCDate formats a UTC millisecond timestamp as YYYY-MM-DD,
// the date form the statistics document uses for coverage bounds (§6).
func MillisToUTCDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
