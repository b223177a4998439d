package xmltv

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// XMLTV timestamp grammar: YYYYMMDDhhmmss optionally followed by whitespace
// and a numeric offset (+HHMM / -HHMM) or Z. A missing offset is treated as
// UTC.

const digitsLayout = "20060102150405"

// ParseTime parses an XMLTV timestamp. The returned time carries the
// source's fixed offset as its location; call UTC() for the instant.
func ParseTime(s string) (time.Time, error) {
	digits, offset, err := splitTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.ParseInLocation(digitsLayout, digits, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing XMLTV time %q: %w", s, err)
	}

	if offset == "" || strings.EqualFold(offset, "Z") {
		return t, nil
	}

	minutes, err := ParseOffset(offset)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing XMLTV time %q: %w", s, err)
	}
	loc := time.FixedZone(offset, minutes*60)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// SplitOffset returns the numeric offset part of an XMLTV timestamp
// ("+0100", "Z", or "" when the source carried none).
func SplitOffset(s string) string {
	_, offset, err := splitTimestamp(s)
	if err != nil {
		return ""
	}
	return offset
}

// splitTimestamp separates the 14 digit wall clock from the optional offset.
func splitTimestamp(s string) (digits, offset string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("empty time string")
	}

	digits = s
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		digits = s[:i]
		offset = strings.TrimSpace(s[i+1:])
	}

	if len(digits) != len(digitsLayout) {
		return "", "", fmt.Errorf("unexpected XMLTV time format: %q", s)
	}
	return digits, offset, nil
}

// ParseOffset converts a ±HHMM (or Z) offset string to minutes east of UTC.
func ParseOffset(offset string) (int, error) {
	if offset == "" || strings.EqualFold(offset, "Z") {
		return 0, nil
	}
	if len(offset) != 5 || (offset[0] != '+' && offset[0] != '-') {
		return 0, fmt.Errorf("invalid offset format: %q", offset)
	}
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid offset hours: %q", offset)
	}
	mins, err := strconv.Atoi(offset[3:5])
	if err != nil {
		return 0, fmt.Errorf("invalid offset minutes: %q", offset)
	}
	if hours > 14 || mins > 59 {
		return 0, fmt.Errorf("offset out of range: %q", offset)
	}
	total := hours*60 + mins
	if offset[0] == '-' {
		total = -total
	}
	return total, nil
}

// FormatOffset renders minutes east of UTC as ±HHMM.
func FormatOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%02d%02d", sign, minutes/60, minutes%60)
}

// FormatTime renders an instant as XMLTV wall digits plus numeric offset in
// the time's own location.
func FormatTime(t time.Time) string {
	return t.Format(digitsLayout + " -0700")
}

// FormatWall renders only the 14 wall digits of t in its own location.
func FormatWall(t time.Time) string {
	return t.Format(digitsLayout)
}
