package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cheryl9/grantdeck/internal/models"
)

// windowDateRe matches the "15 Mar 2026" and "15 March 2026" styles the
// grant portals write application windows in. Long month names go first so
// the submatch captures the whole name; "Sept" is accepted alongside "Sep".
var windowDateRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)\s+(\d{4})\b`)

var openAllYearMarkers = []string{
	"throughout the year",
	"all year",
	"all year round",
	"year-round",
	"year round",
	"open throughout",
}

var monthNums = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"sept": time.September, "oct": time.October, "nov": time.November,
	"dec": time.December,
}

func monthByName(name string) (time.Month, bool) {
	k := strings.ToLower(name)
	if m, ok := monthNums[k]; ok {
		return m, true
	}
	if len(k) > 3 {
		if m, ok := monthNums[k[:3]]; ok {
			return m, true
		}
	}
	return 0, false
}

// ExtractWindow derives the application window from when-to-apply text:
// explicit dates deduplicated ascending, start = first, end = last, plus the
// open-all-year flag when the text says applications never close.
func ExtractWindow(whenText string) ApplicationWindow {
	raw := cleanText(whenText)
	if raw == "" {
		return ApplicationWindow{}
	}

	w := ApplicationWindow{
		Raw:           raw,
		IsOpenAllYear: containsAny(strings.ToLower(raw), openAllYearMarkers),
	}

	seen := make(map[string]struct{})
	for _, m := range windowDateRe.FindAllStringSubmatch(raw, -1) {
		iso, ok := windowMatchToISO(m)
		if !ok {
			continue
		}
		if _, dup := seen[iso]; dup {
			continue
		}
		seen[iso] = struct{}{}
		w.Dates = append(w.Dates, iso)
	}
	sort.Strings(w.Dates)

	if len(w.Dates) > 0 {
		w.StartDate = w.Dates[0]
		w.EndDate = w.Dates[len(w.Dates)-1]
	}

	return w
}

// windowMatchToISO converts a windowDateRe submatch to an ISO date, rejecting
// impossible calendar dates.
func windowMatchToISO(m []string) (string, bool) {
	if len(m) != 4 {
		return "", false
	}
	day := 0
	if _, err := fmt.Sscanf(m[1], "%d", &day); err != nil {
		return "", false
	}
	mon, ok := monthByName(m[2])
	if !ok {
		return "", false
	}
	year := 0
	if _, err := fmt.Sscanf(m[3], "%d", &year); err != nil {
		return "", false
	}

	t := time.Date(year, mon, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != mon || t.Year() != year {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// findWindowDate returns the first portal-style date in text.
func findWindowDate(text string) (time.Time, bool) {
	m := windowDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	iso, ok := windowMatchToISO(m)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// resolveDeadline maps a window onto the grant deadline fields: the end date
// when one exists, the raw window text when only free text exists, and the
// no-deadline sentinel when the source said nothing. An open-all-year window
// never yields a parsed deadline.
func resolveDeadline(w ApplicationWindow) (string, *time.Time, bool) {
	if w.IsOpenAllYear {
		text := w.Raw
		if text == "" {
			text = "open throughout the year"
		}
		return text, nil, true
	}

	if w.EndDate != "" {
		if t, err := time.Parse("2006-01-02", w.EndDate); err == nil {
			eod := toEndOfDay(t)
			return w.EndDate, &eod, false
		}
		return w.EndDate, nil, false
	}

	if w.Raw != "" {
		return w.Raw, nil, false
	}

	return models.NoDeadline, nil, false
}
