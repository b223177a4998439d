// Package xmltv provides streaming XMLTV parsing and writing.
// It supports standard XMLTV format for electronic program guide data.
package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/text/cases"
)

// Channel represents a channel definition in an XMLTV file.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
}

// Programme represents a single program entry in an XMLTV file.
// The original start/stop attribute strings are preserved verbatim so
// downstream writers can pass them through bit-exact.
type Programme struct {
	Channel     string
	Start       time.Time
	Stop        *time.Time
	StartRaw    string
	StopRaw     string
	Title       string
	Description string
	Category    string
	Icon        string
}

// errLimitReached terminates the token loop once the programme budget is
// spent. Never surfaced to callers.
var errLimitReached = errors.New("programme limit reached")

// NormalizeID canonicalizes a channel id for comparison: whitespace trim
// plus Unicode case fold.
func NormalizeID(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}

// Parser provides streaming XMLTV parsing with callback-based processing.
// Channels are emitted as their elements close; programmes are emitted in
// document order, filtered by AllowedIDs and the time window.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each programme that passes the filters.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable parsing errors (bad timestamps,
	// malformed entries). Fatal XML errors are returned from Parse.
	OnError func(err error)

	// AllowedIDs restricts programme emission to channels whose normalized
	// id is present. Empty or nil accepts all channels.
	AllowedIDs map[string]struct{}

	// WindowFrom / WindowTo bound programme emission to records whose
	// [start, stop) half-interval overlaps [WindowFrom, WindowTo). Zero
	// values leave that side unbounded.
	WindowFrom time.Time
	WindowTo   time.Time

	// LimitProgrammes terminates the parse after this many programme
	// elements have been observed (before filtering). Zero or negative
	// means unlimited.
	LimitProgrammes int

	// ChannelsOnly terminates the parse at the first programme element,
	// yielding channel definitions only.
	ChannelsOnly bool

	seenProgrammes int
}

// Parse parses an XMLTV document from a reader.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	p.seenProgrammes = 0

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		elem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch {
		case strings.EqualFold(elem.Name.Local, "channel"):
			channel, err := p.parseChannel(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if p.OnChannel != nil {
				if err := p.OnChannel(channel); err != nil {
					return fmt.Errorf("channel callback: %w", err)
				}
			}

		case strings.EqualFold(elem.Name.Local, "programme"):
			if err := p.parseAndEmitProgramme(decoder, elem); err != nil {
				if errors.Is(err, errLimitReached) {
					return nil
				}
				return err
			}
		}
	}

	return nil
}

// ParseCompressed parses a potentially compressed XMLTV document.
// It auto-detects gzip, bzip2, and xz based on magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// allows reports whether the normalized channel id passes the AllowedIDs
// filter.
func (p *Parser) allows(channelID string) bool {
	if len(p.AllowedIDs) == 0 {
		return true
	}
	_, ok := p.AllowedIDs[NormalizeID(channelID)]
	return ok
}

// inWindow reports whether [start, stop) overlaps the configured window.
// A missing stop is treated as open-ended.
func (p *Parser) inWindow(start time.Time, stop *time.Time) bool {
	if !p.WindowTo.IsZero() && !start.Before(p.WindowTo) {
		return false
	}
	if !p.WindowFrom.IsZero() && stop != nil && !stop.After(p.WindowFrom) {
		return false
	}
	return true
}

// parseAndEmitProgramme consumes one programme element and invokes the
// callback when it passes the id and window filters.
func (p *Parser) parseAndEmitProgramme(decoder *xml.Decoder, start xml.StartElement) error {
	if p.ChannelsOnly {
		return errLimitReached
	}
	if p.LimitProgrammes > 0 && p.seenProgrammes >= p.LimitProgrammes {
		return errLimitReached
	}
	p.seenProgrammes++

	prog, err := p.parseProgramme(decoder, start)
	if err != nil {
		p.handleError(err)
		return nil
	}

	if prog.Start.IsZero() {
		// Missing or unparseable start: the record is dropped.
		p.handleError(fmt.Errorf("programme on channel %q: bad start %q", prog.Channel, prog.StartRaw))
		return nil
	}
	if prog.Stop != nil && prog.Stop.Before(prog.Start) {
		p.handleError(fmt.Errorf("programme on channel %q: stop before start", prog.Channel))
		return nil
	}

	if !p.allows(prog.Channel) || !p.inWindow(prog.Start, prog.Stop) {
		return nil
	}

	if p.OnProgramme != nil {
		if err := p.OnProgramme(prog); err != nil {
			return fmt.Errorf("programme callback: %w", err)
		}
	}
	return nil
}

// parseChannel parses a channel element.
func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	channel := &Channel{}

	for _, attr := range start.Attr {
		if strings.EqualFold(attr.Name.Local, "id") {
			channel.ID = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch {
			case strings.EqualFold(elem.Name.Local, "display-name"):
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil && channel.DisplayName == "" {
					channel.DisplayName = strings.TrimSpace(name)
				}
			case strings.EqualFold(elem.Name.Local, "icon"):
				for _, attr := range elem.Attr {
					if strings.EqualFold(attr.Name.Local, "src") {
						channel.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if strings.EqualFold(elem.Name.Local, "channel") {
				return channel, nil
			}
		}
	}
}

// parseProgramme parses a programme element.
func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{}

	for _, attr := range start.Attr {
		switch {
		case strings.EqualFold(attr.Name.Local, "start"):
			prog.StartRaw = attr.Value
			if t, err := ParseTime(attr.Value); err == nil {
				prog.Start = t
			}
		case strings.EqualFold(attr.Name.Local, "stop"):
			prog.StopRaw = attr.Value
			if t, err := ParseTime(attr.Value); err == nil {
				stop := t
				prog.Stop = &stop
			}
		case strings.EqualFold(attr.Name.Local, "channel"):
			prog.Channel = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch {
			case strings.EqualFold(elem.Name.Local, "title"):
				var title string
				if err := decoder.DecodeElement(&title, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(title)
				}
			case strings.EqualFold(elem.Name.Local, "desc"):
				var desc string
				if err := decoder.DecodeElement(&desc, &elem); err == nil && prog.Description == "" {
					prog.Description = strings.TrimSpace(desc)
				}
			case strings.EqualFold(elem.Name.Local, "category"):
				var cat string
				if err := decoder.DecodeElement(&cat, &elem); err == nil && prog.Category == "" {
					prog.Category = strings.TrimSpace(cat)
				}
			case strings.EqualFold(elem.Name.Local, "icon"):
				for _, attr := range elem.Attr {
					if strings.EqualFold(attr.Name.Local, "src") {
						prog.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if strings.EqualFold(elem.Name.Local, "programme") {
				return prog, nil
			}
		}
	}
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
