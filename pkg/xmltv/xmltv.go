// Package xmltv writes and reads XMLTV program guides. The TV engine
// projects channel schedules into guide entries for export, and imports
// externally authored schedules from the same format. Only the subset of
// XMLTV a broadcast schedule needs is modelled: channels, programmes,
// titles, descriptions, and categories.
package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// timeLayout is the XMLTV timestamp format: "20060102150405 -0700".
const timeLayout = "20060102150405 -0700"

// Channel is one guide channel definition.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
}

// Programme is one guide entry.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	Description string
	Category    string
}

// Writer emits an XMLTV document incrementally: header, then channels,
// then programmes, then footer. Channels must precede programmes.
type Writer struct {
	enc           *xml.Encoder
	w             io.Writer
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates an XMLTV writer.
func NewWriter(w io.Writer) *Writer {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &Writer{enc: enc, w: w}
}

// wire shapes for encoding/decoding.
type xmlDisplayName struct {
	Value string `xml:",chardata"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

type xmlChannel struct {
	XMLName     xml.Name         `xml:"channel"`
	ID          string           `xml:"id,attr"`
	DisplayName []xmlDisplayName `xml:"display-name"`
	Icon        *xmlIcon         `xml:"icon"`
}

type xmlProgramme struct {
	XMLName     xml.Name `xml:"programme"`
	Start       string   `xml:"start,attr"`
	Stop        string   `xml:"stop,attr"`
	Channel     string   `xml:"channel,attr"`
	Title       string   `xml:"title"`
	Description string   `xml:"desc,omitempty"`
	Category    string   `xml:"category,omitempty"`
}

// writeHeader opens the document and the tv element.
func (w *Writer) writeHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := io.WriteString(w.w, xml.Header); err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}

	start := xml.StartElement{
		Name: xml.Name{Local: "tv"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "generator-info-name"}, Value: "mediad"},
		},
	}
	if err := w.enc.EncodeToken(start); err != nil {
		return fmt.Errorf("opening tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes one channel definition. All channels must be
// written before the first programme.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	out := xmlChannel{
		ID:          ch.ID,
		DisplayName: []xmlDisplayName{{Value: ch.DisplayName}},
	}
	if ch.Icon != "" {
		out.Icon = &xmlIcon{Src: ch.Icon}
	}
	if err := w.enc.Encode(out); err != nil {
		return fmt.Errorf("writing channel %q: %w", ch.ID, err)
	}
	return nil
}

// WriteProgramme writes one guide entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	out := xmlProgramme{
		Start:       prog.Start.Format(timeLayout),
		Stop:        prog.Stop.Format(timeLayout),
		Channel:     prog.Channel,
		Title:       prog.Title,
		Description: prog.Description,
		Category:    prog.Category,
	}
	if err := w.enc.Encode(out); err != nil {
		return fmt.Errorf("writing programme %q: %w", prog.Title, err)
	}
	return nil
}

// WriteFooter closes the tv element and flushes.
func (w *Writer) WriteFooter() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "tv"}}); err != nil {
		return fmt.Errorf("closing tv element: %w", err)
	}
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("flushing xmltv output: %w", err)
	}
	// Trailing newline so concatenated exports stay line-oriented.
	_, err := io.WriteString(w.w, "\n")
	return err
}

// Parser streams channels and programmes out of an XMLTV document via
// callbacks.
type Parser struct {
	// OnChannel is called for each channel definition. Optional.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each programme. Optional.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable problems such as unparseable
	// timestamps; the element is skipped. Nil means skip silently.
	OnError func(err error)
}

// Parse walks the document, decoding channel and programme elements.
func (p *Parser) Parse(r io.Reader) error {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading xmltv document: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "channel":
			if err := p.decodeChannel(dec, start); err != nil {
				return err
			}
		case "programme":
			if err := p.decodeProgramme(dec, start); err != nil {
				return err
			}
		}
	}
}

func (p *Parser) decodeChannel(dec *xml.Decoder, start xml.StartElement) error {
	var wire xmlChannel
	if err := dec.DecodeElement(&wire, &start); err != nil {
		return fmt.Errorf("decoding channel element: %w", err)
	}
	if p.OnChannel == nil {
		return nil
	}

	ch := &Channel{ID: wire.ID}
	if len(wire.DisplayName) > 0 {
		ch.DisplayName = wire.DisplayName[0].Value
	}
	if wire.Icon != nil {
		ch.Icon = wire.Icon.Src
	}
	return p.OnChannel(ch)
}

func (p *Parser) decodeProgramme(dec *xml.Decoder, start xml.StartElement) error {
	var wire xmlProgramme
	if err := dec.DecodeElement(&wire, &start); err != nil {
		return fmt.Errorf("decoding programme element: %w", err)
	}
	if p.OnProgramme == nil {
		return nil
	}

	startAt, err := parseTime(wire.Start)
	if err != nil {
		p.reportError(fmt.Errorf("programme %q: %w", wire.Title, err))
		return nil
	}
	stopAt, err := parseTime(wire.Stop)
	if err != nil {
		p.reportError(fmt.Errorf("programme %q: %w", wire.Title, err))
		return nil
	}

	return p.OnProgramme(&Programme{
		Start:       startAt,
		Stop:        stopAt,
		Channel:     wire.Channel,
		Title:       wire.Title,
		Description: wire.Description,
		Category:    wire.Category,
	})
}

func (p *Parser) reportError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

// parseTime parses an XMLTV timestamp, tolerating a missing timezone
// offset (interpreted as UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid xmltv time %q", s)
	}
	return t.UTC(), nil
}
