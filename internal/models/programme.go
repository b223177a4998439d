package models

import "time"

// Programme is the atomic schedule record for one channel. It is immutable
// once parsed; the original XMLTV timestamp strings are preserved verbatim so
// the export fast path can pass them through bit-exact.
type Programme struct {
	// ChannelID is the playlist-side channel id after merge, or the EPG-side
	// id as parsed.
	ChannelID string `json:"channel_id"`

	// StartUTC is the programme start instant. Always present on emitted
	// records.
	StartUTC time.Time `json:"start_utc"`

	// StopUTC is the programme end instant, if the source carried one.
	StopUTC *time.Time `json:"stop_utc,omitempty"`

	// StartRaw is the original XMLTV start attribute, including its numeric
	// offset.
	StartRaw string `json:"start_raw"`

	// StopRaw is the original XMLTV stop attribute, if present.
	StopRaw string `json:"stop_raw,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
}

// Duration returns the programme duration, or zero when stop is unknown.
func (p *Programme) Duration() time.Duration {
	if p.StopUTC == nil {
		return 0
	}
	return p.StopUTC.Sub(p.StartUTC)
}

// Overlaps reports whether the programme's [start, stop) half-interval
// overlaps the window [from, to). A missing stop is treated as open-ended.
func (p *Programme) Overlaps(from, to time.Time) bool {
	if !p.StartUTC.Before(to) {
		return false
	}
	if p.StopUTC == nil {
		return true
	}
	return p.StopUTC.After(from)
}

// EpgChannel is channel metadata discovered in an XMLTV document.
// When multiple sources supply the same channel, the first non-empty
// field wins.
type EpgChannel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
}

// Merge fills empty fields of c from other.
func (c *EpgChannel) Merge(other *EpgChannel) {
	if other == nil {
		return
	}
	if c.DisplayName == "" {
		c.DisplayName = other.DisplayName
	}
	if c.IconURL == "" {
		c.IconURL = other.IconURL
	}
}
