package monitor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule accepts 5-field and 6-field (leading seconds) cron specs plus
// descriptors such as "@every 10s".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule normalizes a schedule string to a cron spec.
//
// Supported forms:
//   - Go duration: "10s", "1m30s" (becomes "@every ...")
//   - HH:MM interval: "00:05" (5 minutes)
//   - cron: "*/10 * * * * *", "@every 10s", "@hourly"
//
// A "cron:" prefix forces cron parsing; "every:" forces interval parsing.
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return validCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(s[len("every:"):])
		if err != nil {
			return "", err
		}
		return every(d), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return validCron(s)
	}

	d, err := parseInterval(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use a duration like '10s', HH:MM like '00:05', or cron like '*/10 * * * * *')", raw)
	}
	return every(d), nil
}

func every(d time.Duration) string { return "@every " + d.String() }

func validCron(expr string) (string, error) {
	if expr == "" {
		return "", fmt.Errorf("cron schedule required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return expr, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		var hh, mm int
		_, _ = fmt.Sscanf(m[1], "%d", &hh)
		_, _ = fmt.Sscanf(m[2], "%d", &mm)
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
