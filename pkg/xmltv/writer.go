package xmltv

import (
	"fmt"
	"io"
	"strings"
)

// Entry is a programme ready for writing. Start and Stop are preformatted
// XMLTV timestamps; the writer does not touch them.
type Entry struct {
	Channel     string
	Start       string
	Stop        string
	Title       string
	Description string
	Category    string
	Icon        string
}

// Writer provides streaming XMLTV document writing.
type Writer struct {
	w             io.Writer
	generator     string
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a new XMLTV writer. The generator string is emitted as
// the tv element's generator-info-name.
func NewWriter(w io.Writer, generator string) *Writer {
	return &Writer{w: w, generator: generator}
}

// WriteHeader writes the XML declaration, doctype, and opens the tv element.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}
	if _, err := fmt.Fprintln(w.w, `<!DOCTYPE tv SYSTEM "xmltv.dtd">`); err != nil {
		return fmt.Errorf("writing doctype: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "<tv generator-info-name=\"%s\">\n", escapeAttr(w.generator)); err != nil {
		return fmt.Errorf("writing tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes a channel definition.
// All channels must be written before any programmes.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	if _, err := fmt.Fprintf(w.w, "  <channel id=\"%s\">\n", escapeAttr(ch.ID)); err != nil {
		return fmt.Errorf("writing channel start: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "    <display-name>%s</display-name>\n", escapeText(ch.DisplayName)); err != nil {
		return err
	}
	if ch.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", escapeAttr(ch.Icon)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w, "  </channel>")
	return err
}

// WriteProgramme writes a programme entry.
func (w *Writer) WriteProgramme(e *Entry) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	if e.Stop != "" {
		if _, err := fmt.Fprintf(w.w, "  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
			escapeAttr(e.Start), escapeAttr(e.Stop), escapeAttr(e.Channel)); err != nil {
			return fmt.Errorf("writing programme start: %w", err)
		}
	} else {
		if _, err := fmt.Fprintf(w.w, "  <programme start=\"%s\" channel=\"%s\">\n",
			escapeAttr(e.Start), escapeAttr(e.Channel)); err != nil {
			return fmt.Errorf("writing programme start: %w", err)
		}
	}

	if e.Title != "" {
		if _, err := fmt.Fprintf(w.w, "    <title>%s</title>\n", escapeText(e.Title)); err != nil {
			return err
		}
	}
	if e.Description != "" {
		if _, err := fmt.Fprintf(w.w, "    <desc>%s</desc>\n", escapeText(e.Description)); err != nil {
			return err
		}
	}
	if e.Category != "" {
		if _, err := fmt.Fprintf(w.w, "    <category>%s</category>\n", escapeText(e.Category)); err != nil {
			return err
		}
	}
	if e.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", escapeAttr(e.Icon)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w.w, "  </programme>")
	return err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.w, "</tv>")
	return err
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// escapeText escapes character data.
func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// escapeAttr escapes attribute values.
func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
