package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// parseDateRobust attempts to parse a deadline string in the formats the
// Singapore grant portals use. Date-only inputs resolve to end of day UTC so
// a deadline stays open through its final day.
func parseDateRobust(text string) (time.Time, error) {
	text = cleanDateString(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return toEndOfDay(t), nil
	}

	formats := []string{
		"2 January 2006",
		"02 January 2006",
		"2 Jan 2006",
		"02 Jan 2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2/1/2006",
		"02/01/2006",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, text); err == nil {
			if strings.Contains(format, ":") {
				return t, nil
			}
			return toEndOfDay(t), nil
		}
	}

	if t := parseDateWithRegex(text); !t.IsZero() {
		return toEndOfDay(t), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// parseDateWithRegex extracts a date embedded in surrounding text.
func parseDateWithRegex(text string) time.Time {
	// ISO date: 2026-03-15
	isoRegex := regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	if matches := isoRegex.FindStringSubmatch(text); len(matches) == 4 {
		if t, err := time.Parse("2006-01-02", matches[0]); err == nil {
			return t
		}
	}

	// Day-first numeric: 15/3/2026 or 15/03/2026
	dmyRegex := regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	if matches := dmyRegex.FindStringSubmatch(text); len(matches) == 4 {
		dateStr := fmt.Sprintf("%s/%s/%s", matches[1], matches[2], matches[3])
		if t, err := time.Parse("2/1/2006", dateStr); err == nil {
			return t
		}
	}

	// Month name: 15 March 2026, 15 Mar 2026, March 15, 2026
	if d, ok := findWindowDate(text); ok {
		return d
	}
	monthFirst := regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\s+(\d{1,2}),?\s+(20\d{2})\b`)
	if matches := monthFirst.FindStringSubmatch(text); len(matches) == 4 {
		if mon, ok := monthByName(matches[1]); ok {
			if t, err := time.Parse("2 1 2006", fmt.Sprintf("%s %d %s", matches[2], mon, matches[3])); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}

// cleanDateString removes common label prefixes before parsing.
func cleanDateString(s string) string {
	prefixes := []string{
		"Closing date:", "Closing:", "Deadline:", "Apply by:", "Applications close:",
		"Due date:", "Submit by:", "Closes:", "Ends:",
	}
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, strings.ToLower(p)); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
