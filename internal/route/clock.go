package route

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(hhmm string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("route: invalid time %q", hhmm)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("route: invalid hour in %q", hhmm)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("route: invalid minute in %q", hhmm)
	}
	return hh*60 + mm, nil
}

// AddMinutes adds minutes to an "HH:MM" time of day, wrapping at midnight.
// An empty start yields an empty result.
func AddMinutes(hhmm string, minutes int) (string, error) {
	if hhmm == "" {
		return "", nil
	}
	start, err := ParseClock(hhmm)
	if err != nil {
		return "", err
	}
	total := ((start+minutes)%(24*60) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", total/60, total%60), nil
}
