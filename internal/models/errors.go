package models

import "errors"

// Common validation and lookup errors.
var (
	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrSourceNotFound indicates a source id does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrChannelIDRequired indicates a required channel id is empty.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrInvalidShiftMode indicates a shift mode outside {wall, offset}.
	ErrInvalidShiftMode = errors.New("invalid shift mode: must be 'wall' or 'offset'")

	// ErrInvalidZone indicates an unknown IANA zone id.
	ErrInvalidZone = errors.New("invalid zone id")

	// ErrInvalidTimeRange indicates a window whose end precedes its start.
	ErrInvalidTimeRange = errors.New("window end must be after window start")
)
