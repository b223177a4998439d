package xmltv

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="channel1.tv">
    <display-name>Channel One</display-name>
    <icon src="http://example.com/logo1.png"/>
  </channel>
  <channel id="Channel2.TV">
    <display-name>Channel Two</display-name>
  </channel>
  <programme start="20240115180000 +0000" stop="20240115190000 +0000" channel="channel1.tv">
    <title>News at Six</title>
    <desc>The latest news and weather.</desc>
    <category>News</category>
    <icon src="http://example.com/news.png"/>
  </programme>
  <programme start="20240115190000 +0000" stop="20240115200000 +0000" channel="channel1.tv">
    <title>Evening Drama</title>
  </programme>
  <programme start="20240115183000 +0100" stop="20240115193000 +0100" channel="Channel2.TV">
    <title>Quiz Hour</title>
  </programme>
</tv>`

func TestParser_ParseChannels(t *testing.T) {
	var channels []*Channel
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
	}

	err := p.Parse(strings.NewReader(sampleXMLTV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}

	ch1 := channels[0]
	if ch1.ID != "channel1.tv" {
		t.Errorf("expected ID 'channel1.tv', got %q", ch1.ID)
	}
	if ch1.DisplayName != "Channel One" {
		t.Errorf("expected DisplayName 'Channel One', got %q", ch1.DisplayName)
	}
	if ch1.Icon != "http://example.com/logo1.png" {
		t.Errorf("expected Icon URL, got %q", ch1.Icon)
	}
}

func TestParser_ParseProgrammes(t *testing.T) {
	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(programmes) != 3 {
		t.Fatalf("expected 3 programmes, got %d", len(programmes))
	}

	first := programmes[0]
	if first.Channel != "channel1.tv" {
		t.Errorf("expected channel 'channel1.tv', got %q", first.Channel)
	}
	if first.Title != "News at Six" {
		t.Errorf("expected title 'News at Six', got %q", first.Title)
	}
	if first.Description != "The latest news and weather." {
		t.Errorf("unexpected description %q", first.Description)
	}
	if first.Category != "News" {
		t.Errorf("unexpected category %q", first.Category)
	}
	if first.StartRaw != "20240115180000 +0000" {
		t.Errorf("raw start not preserved: %q", first.StartRaw)
	}

	want := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	if !first.Start.UTC().Equal(want) {
		t.Errorf("expected start %v, got %v", want, first.Start.UTC())
	}

	// The +0100 programme parses to 17:30 UTC.
	third := programmes[2]
	wantUTC := time.Date(2024, 1, 15, 17, 30, 0, 0, time.UTC)
	if !third.Start.UTC().Equal(wantUTC) {
		t.Errorf("expected start %v, got %v", wantUTC, third.Start.UTC())
	}
}

func TestParser_AllowedIDs(t *testing.T) {
	var programmes []*Programme
	p := &Parser{
		// Mixed case on purpose: matching is Unicode-insensitive.
		AllowedIDs: map[string]struct{}{NormalizeID("  CHANNEL2.tv "): {}},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(programmes) != 1 {
		t.Fatalf("expected 1 programme, got %d", len(programmes))
	}
	if programmes[0].Title != "Quiz Hour" {
		t.Errorf("wrong programme passed the filter: %q", programmes[0].Title)
	}
}

func TestParser_Window(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want []string
	}{
		{
			name: "covers all",
			from: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
			want: []string{"News at Six", "Evening Drama", "Quiz Hour"},
		},
		{
			name: "first hour only",
			from: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC),
			want: []string{"News at Six", "Quiz Hour"},
		},
		{
			name: "overlap counts",
			from: time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC),
			to:   time.Date(2024, 1, 15, 18, 45, 0, 0, time.UTC),
			// Quiz Hour ends exactly at window start (17:30-18:30 UTC) and
			// is excluded by the half-open interval.
			want: []string{"News at Six"},
		},
		{
			name: "nothing before",
			from: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titles []string
			p := &Parser{
				WindowFrom: tt.from,
				WindowTo:   tt.to,
				OnProgramme: func(prog *Programme) error {
					titles = append(titles, prog.Title)
					return nil
				},
			}
			if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(titles) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, titles)
			}
			for i := range tt.want {
				if titles[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, titles)
				}
			}
		})
	}
}

func TestParser_ChannelsOnly(t *testing.T) {
	var channels []*Channel
	programmes := 0
	p := &Parser{
		ChannelsOnly: true,
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes++
			return nil
		},
	}

	if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 2 {
		t.Errorf("expected 2 channels, got %d", len(channels))
	}
	if programmes != 0 {
		t.Errorf("expected zero programmes, got %d", programmes)
	}
}

func TestParser_LimitProgrammes(t *testing.T) {
	count := 0
	p := &Parser{
		LimitProgrammes: 2,
		OnProgramme: func(prog *Programme) error {
			count++
			return nil
		},
	}
	if err := p.Parse(strings.NewReader(sampleXMLTV)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 programmes, got %d", count)
	}
}

func TestParser_DropsBadStart(t *testing.T) {
	const doc = `<tv>
  <programme start="not-a-time" channel="a"><title>Bad</title></programme>
  <programme start="20240115180000" channel="a"><title>Good</title></programme>
</tv>`

	var titles []string
	errs := 0
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			titles = append(titles, prog.Title)
			return nil
		},
		OnError: func(err error) { errs++ },
	}
	if err := p.Parse(strings.NewReader(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Good" {
		t.Fatalf("expected only the valid programme, got %v", titles)
	}
	if errs == 0 {
		t.Error("expected OnError for the bad timestamp")
	}
}

func TestParser_CaseInsensitiveTags(t *testing.T) {
	const doc = `<TV>
  <CHANNEL ID="upper.tv"><DISPLAY-NAME>Upper</DISPLAY-NAME></CHANNEL>
  <PROGRAMME START="20240115180000 +0000" CHANNEL="upper.tv"><TITLE>Shouting</TITLE></PROGRAMME>
</TV>`

	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}
	if err := p.Parse(strings.NewReader(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != "upper.tv" {
		t.Fatalf("channel not parsed case-insensitively: %+v", channels)
	}
	if len(programmes) != 1 || programmes[0].Title != "Shouting" {
		t.Fatalf("programme not parsed case-insensitively: %+v", programmes)
	}
}

func TestParser_ParseCompressed_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(sampleXMLTV)); err != nil {
		t.Fatalf("compressing sample: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}

	count := 0
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			count++
			return nil
		},
	}
	if err := p.ParseCompressed(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 programmes from gzip input, got %d", count)
	}
}

func TestParser_BadGzipIsFatal(t *testing.T) {
	// Gzip magic bytes followed by garbage.
	bad := bytes.NewReader([]byte{0x1f, 0x8b, 0xff, 0x00, 0x01, 0x02})
	p := &Parser{OnProgramme: func(*Programme) error { return nil }}
	if err := p.ParseCompressed(bad); err == nil {
		t.Fatal("expected error for corrupt gzip input")
	}
}

func TestParser_MissingStopAccepted(t *testing.T) {
	const doc = `<tv>
  <programme start="20240115180000 +0000" channel="a"><title>Open Ended</title></programme>
</tv>`

	var got *Programme
	p := &Parser{
		WindowFrom: time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC),
		WindowTo:   time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
		OnProgramme: func(prog *Programme) error {
			got = prog
			return nil
		},
	}
	if err := p.Parse(strings.NewReader(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// start < window_to and stop absent: treated as overlapping.
	if got == nil {
		t.Fatal("expected open-ended programme to pass the window filter")
	}
	if got.Stop != nil {
		t.Errorf("expected nil stop, got %v", got.Stop)
	}
}
