package utils

import (
	"regexp"
	"strings"
	"time"
)

// Out-of-office return-date extraction. Heuristic by design: a handful of
// common date shapes are tried and the first parse that lands in the future
// wins. Failure to parse must fall back to "no reschedule" at the call site.

var (
	isoDateRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDateRe = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	monthDayRe  = regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?`)
	dayMonthRe  = regexp.MustCompile(`(?i)\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?(?:,?\s+\d{4})?`)

	ordinalRe = regexp.MustCompile(`(?i)(\d{1,2})(st|nd|rd|th)`)
)

var monthDayLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2",
	"Jan 2",
}

var dayMonthLayouts = []string{
	"2 January 2006",
	"2 Jan 2006",
	"2 January, 2006",
	"2 January",
	"2 Jan",
}

// ExtractReturnDate scans an out-of-office body for a return date. The second
// return value is false when nothing parseable was found or every candidate
// lies in the past.
func ExtractReturnDate(body string, now time.Time) (time.Time, bool) {
	for _, candidate := range isoDateRe.FindAllString(body, -1) {
		if t, err := time.Parse("2006-01-02", candidate); err == nil {
			if t.After(now) {
				return t, true
			}
		}
	}

	for _, candidate := range slashDateRe.FindAllString(body, -1) {
		if t, err := time.Parse("1/2/2006", candidate); err == nil {
			if t.After(now) {
				return t, true
			}
		}
	}

	for _, candidate := range monthDayRe.FindAllString(body, -1) {
		if t, ok := parseCandidate(candidate, monthDayLayouts, now); ok {
			return t, true
		}
	}

	for _, candidate := range dayMonthRe.FindAllString(body, -1) {
		if t, ok := parseCandidate(candidate, dayMonthLayouts, now); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

func parseCandidate(candidate string, layouts []string, now time.Time) (time.Time, bool) {
	cleaned := normalizeDateText(candidate)
	for _, layout := range layouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		// Layouts without a year parse into year 0: pin to the current year,
		// rolling into the next one when the date already passed.
		if t.Year() == 0 {
			t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
			if !t.After(now) {
				t = t.AddDate(1, 0, 0)
			}
		}
		if t.After(now) {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeDateText(s string) string {
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, " of ", " ")
	s = strings.Join(strings.Fields(s), " ")
	// Title-case the month so the layouts match regardless of input casing.
	fields := strings.Fields(s)
	for i, f := range fields {
		if len(f) > 0 && ((f[0] >= 'a' && f[0] <= 'z') || (f[0] >= 'A' && f[0] <= 'Z')) {
			fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
		}
	}
	return strings.Join(fields, " ")
}
