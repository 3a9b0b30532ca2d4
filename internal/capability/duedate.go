package capability

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Default clock hours for phrases that name a day but not a time.
const (
	morningHour = 9
	eveningHour = 20
)

// relativeDuePattern matches "in 2 hours", "in 10 minutes", "in 3 days".
var relativeDuePattern = regexp.MustCompile(`\bin (\d{1,3}) (minute|hour|day|week)s?\b`)

// weekdayNames is ordered only for iteration; the earliest mention in the
// text wins so parsing stays deterministic.
var weekdayNames = []struct {
	name string
	day  time.Weekday
}{
	{"monday", time.Monday},
	{"tuesday", time.Tuesday},
	{"wednesday", time.Wednesday},
	{"thursday", time.Thursday},
	{"friday", time.Friday},
	{"saturday", time.Saturday},
	{"sunday", time.Sunday},
}

// duePrepositions are stripped together with the phrase they precede so
// task titles come out clean. Longest first.
var duePrepositions = []string{"due by ", "due ", "by ", "before ", "on "}

// parseDuePhrase finds the first due-time phrase in the lowercased text and
// resolves it against now. It returns the resolved time, the exact phrase
// matched, and whether anything was found. Resolution rules: relative
// spans add to now; "tomorrow", "next week", and weekday names land on
// 09:00; "tonight" lands on 20:00; a bare or by-/on-prefixed weekday means
// the next occurrence (one to seven days out), "next <weekday>" the
// occurrence after that.
func parseDuePhrase(lower string, now time.Time) (time.Time, string, bool) {
	if m := relativeDuePattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		var unit time.Duration
		switch m[2] {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), m[0], true
	}

	if strings.Contains(lower, "tomorrow") {
		return atHour(now.AddDate(0, 0, 1), morningHour), "tomorrow", true
	}
	if strings.Contains(lower, "tonight") {
		return atHour(now, eveningHour), "tonight", true
	}
	if strings.Contains(lower, "next week") {
		return atHour(now.AddDate(0, 0, 7), morningHour), "next week", true
	}

	// Weekday names: the one mentioned earliest in the text wins.
	bestIdx := -1
	var bestDay time.Weekday
	var bestName string
	for _, wd := range weekdayNames {
		if idx := strings.Index(lower, wd.name); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			bestIdx, bestDay, bestName = idx, wd.day, wd.name
		}
	}
	if bestIdx < 0 {
		return time.Time{}, "", false
	}

	phrase := bestName
	daysAhead := (int(bestDay) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	if strings.HasSuffix(lower[:bestIdx], "next ") {
		phrase = "next " + bestName
		daysAhead += 7
	}
	return atHour(now.AddDate(0, 0, daysAhead), morningHour), phrase, true
}

// stripDuePhrase removes the matched phrase (and a leading preposition,
// when present) from the original-cased text. lower must be the lowercased
// form of text.
func stripDuePhrase(text, lower, phrase string) string {
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return text
	}
	start, end := idx, idx+len(phrase)
	for _, prep := range duePrepositions {
		if strings.HasSuffix(lower[:start], prep) {
			start -= len(prep)
			break
		}
	}
	return text[:start] + text[end:]
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
