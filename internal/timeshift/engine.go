// Package timeshift converts programme instants between UTC and output
// XMLTV timestamps under wall-clock or numeric-offset shift modes.
package timeshift

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// Numeric offsets are clamped to ±14:00, the widest offset in use.
const maxOffsetMinutes = 14 * 60

// zoneCache memoizes IANA zone lookups; time.LoadLocation reads tzdata on
// every call.
var zoneCache sync.Map // string -> *time.Location

func loadZone(zoneID string) (*time.Location, error) {
	if cached, ok := zoneCache.Load(zoneID); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zoneID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidZone, zoneID)
	}
	zoneCache.Store(zoneID, loc)
	return loc, nil
}

// Request describes one timestamp conversion.
type Request struct {
	// UTC is the original programme instant.
	UTC time.Time

	// Original is the source XMLTV timestamp string, when available. Its
	// numeric offset participates in wall and offset mode; its bytes are
	// passed through on the fast path.
	Original string

	// ZoneID is an optional IANA zone for wall-mode shifting.
	ZoneID string

	// OffsetMinutes shifts the result; may be negative.
	OffsetMinutes int

	// Mode selects wall or offset shifting.
	Mode models.ShiftMode
}

// Engine formats XMLTV timestamps under per-channel shift rules.
type Engine struct {
	// ForceZeroOffset rewrites the final numeric offset to +0000 without
	// altering the wall digits, for clients that re-apply device offsets.
	ForceZeroOffset bool
}

// Format returns the output XMLTV timestamp for req.
func (e *Engine) Format(req Request) (string, error) {
	if req.UTC.IsZero() && req.Original == "" {
		return "", fmt.Errorf("timeshift: no instant to format")
	}

	// Fast path: nothing to shift and no zone-dependent digits to derive.
	if req.OffsetMinutes == 0 && req.Original != "" &&
		(req.ZoneID == "" || req.Mode == models.ShiftModeOffset) {
		return e.finish(req.Original), nil
	}

	utc := req.UTC
	if utc.IsZero() {
		t, err := xmltv.ParseTime(req.Original)
		if err != nil {
			return "", fmt.Errorf("timeshift: %w", err)
		}
		utc = t
	}
	utc = utc.UTC()

	var out string
	switch req.Mode {
	case models.ShiftModeOffset:
		formatted, err := formatOffsetMode(utc, req)
		if err != nil {
			return "", err
		}
		out = formatted
	default:
		formatted, err := formatWallMode(utc, req)
		if err != nil {
			return "", err
		}
		out = formatted
	}

	return e.finish(out), nil
}

// formatWallMode applies a DST-aware wall-clock shift.
func formatWallMode(utc time.Time, req Request) (string, error) {
	shift := time.Duration(req.OffsetMinutes) * time.Minute

	if req.ZoneID != "" {
		loc, err := loadZone(req.ZoneID)
		if err != nil {
			return "", err
		}
		// Add the offset to the wall clock; time.Date re-resolves the zone
		// offset at the shifted instant, which is where DST is honored.
		local := utc.In(loc)
		shifted := time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour(), local.Minute()+req.OffsetMinutes, local.Second(), 0, loc)
		return xmltv.FormatTime(shifted), nil
	}

	if origOffset := xmltv.SplitOffset(req.Original); origOffset != "" {
		minutes, err := xmltv.ParseOffset(origOffset)
		if err == nil {
			loc := time.FixedZone(origOffset, minutes*60)
			return xmltv.FormatTime(utc.Add(shift).In(loc)), nil
		}
	}

	return xmltv.FormatTime(utc.Add(shift)), nil
}

// formatOffsetMode keeps the wall digits and adjusts the numeric offset.
func formatOffsetMode(utc time.Time, req Request) (string, error) {
	var digits string
	baseOffset := 0

	if req.ZoneID != "" {
		loc, err := loadZone(req.ZoneID)
		if err != nil {
			return "", err
		}
		local := utc.In(loc)
		digits = xmltv.FormatWall(local)
		_, secs := local.Zone()
		baseOffset = secs / 60
	} else if req.Original != "" {
		t, err := xmltv.ParseTime(req.Original)
		if err != nil {
			return "", fmt.Errorf("timeshift: %w", err)
		}
		digits = xmltv.FormatWall(t)
		if minutes, err := xmltv.ParseOffset(xmltv.SplitOffset(req.Original)); err == nil {
			baseOffset = minutes
		}
	} else {
		digits = xmltv.FormatWall(utc)
	}

	return digits + " " + xmltv.FormatOffset(clampOffset(baseOffset+req.OffsetMinutes)), nil
}

// finish applies the global zero-offset normalization.
func (e *Engine) finish(ts string) string {
	if !e.ForceZeroOffset {
		return ts
	}
	return ZeroOffset(ts)
}

// ZeroOffset rewrites a timestamp's numeric offset to +0000, leaving the
// wall digits untouched.
func ZeroOffset(ts string) string {
	digits := ts
	if i := indexSpace(ts); i >= 0 {
		digits = ts[:i]
	}
	return digits + " +0000"
}

func clampOffset(minutes int) int {
	if minutes > maxOffsetMinutes {
		return maxOffsetMinutes
	}
	if minutes < -maxOffsetMinutes {
		return -maxOffsetMinutes
	}
	return minutes
}

func indexSpace(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}
