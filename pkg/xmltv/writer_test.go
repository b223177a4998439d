package xmltv

import (
	"strings"
	"testing"
)

func TestWriter_Document(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "epg-viewer export")

	err := w.WriteChannel(&Channel{ID: "BBC1", DisplayName: "BBC One", Icon: "http://example.com/bbc1.png"})
	if err != nil {
		t.Fatalf("writing channel: %v", err)
	}
	err = w.WriteProgramme(&Entry{
		Channel: "BBC1",
		Start:   "20240610120000 +0000",
		Stop:    "20240610130000 +0000",
		Title:   "News",
	})
	if err != nil {
		t.Fatalf("writing programme: %v", err)
	}
	if err := w.WriteFooter(); err != nil {
		t.Fatalf("writing footer: %v", err)
	}

	out := sb.String()
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<!DOCTYPE tv SYSTEM "xmltv.dtd">`,
		`<tv generator-info-name="epg-viewer export">`,
		`<channel id="BBC1">`,
		`<display-name>BBC One</display-name>`,
		`<icon src="http://example.com/bbc1.png"/>`,
		`<programme start="20240610120000 +0000" stop="20240610130000 +0000" channel="BBC1">`,
		`<title>News</title>`,
		`</tv>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriter_ChannelAfterProgramme(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "test")

	if err := w.WriteProgramme(&Entry{Channel: "a", Start: "20240610120000 +0000"}); err != nil {
		t.Fatalf("writing programme: %v", err)
	}
	if err := w.WriteChannel(&Channel{ID: "late"}); err == nil {
		t.Fatal("expected error writing channel after programme")
	}
}

func TestWriter_Escaping(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "test")

	err := w.WriteProgramme(&Entry{
		Channel: `a&b<c>"d`,
		Start:   "20240610120000 +0000",
		Title:   `Tom & Jerry <uncut> "special"`,
	})
	if err != nil {
		t.Fatalf("writing programme: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, `channel="a&amp;b&lt;c&gt;&quot;d"`) {
		t.Errorf("attribute escaping wrong:\n%s", out)
	}
	// Text escapes &, <, > but not quotes.
	if !strings.Contains(out, `<title>Tom &amp; Jerry &lt;uncut&gt; "special"</title>`) {
		t.Errorf("text escaping wrong:\n%s", out)
	}
}

func TestWriter_MissingStopOmitted(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "test")
	if err := w.WriteProgramme(&Entry{Channel: "a", Start: "20240610120000 +0000"}); err != nil {
		t.Fatalf("writing programme: %v", err)
	}
	if strings.Contains(sb.String(), `stop=`) {
		t.Errorf("stop attribute should be omitted:\n%s", sb.String())
	}
}

// A written document parses back to the same records.
func TestWriter_RoundTrip(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb, "test")

	entries := []*Entry{
		{Channel: "one", Start: "20240610120000 +0000", Stop: "20240610130000 +0000", Title: "First"},
		{Channel: "one", Start: "20240610130000 +0000", Stop: "20240610140000 +0000", Title: "Second", Category: "News"},
	}
	if err := w.WriteChannel(&Channel{ID: "one", DisplayName: "One"}); err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := w.WriteProgramme(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.WriteFooter(); err != nil {
		t.Fatal(err)
	}

	var parsed []*Programme
	p := &Parser{OnProgramme: func(prog *Programme) error {
		parsed = append(parsed, prog)
		return nil
	}}
	if err := p.Parse(strings.NewReader(sb.String())); err != nil {
		t.Fatalf("parsing written document: %v", err)
	}

	if len(parsed) != len(entries) {
		t.Fatalf("expected %d programmes, got %d", len(entries), len(parsed))
	}
	for i, e := range entries {
		if parsed[i].StartRaw != e.Start || parsed[i].StopRaw != e.Stop {
			t.Errorf("timestamps not preserved: %+v vs %+v", parsed[i], e)
		}
		if parsed[i].Title != e.Title {
			t.Errorf("title mismatch: %q vs %q", parsed[i].Title, e.Title)
		}
	}
}
