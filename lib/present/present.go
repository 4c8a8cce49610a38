// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package present renders envelopes for people and for other tools.
//
// [Printer] writes one line per envelope:
//
//	   12.004211 WARN  control#3/417 [cycle-17] joint_sample: {Joint:2 Position:-40}
//
// Severity is colored through a lipgloss renderer bound to the output,
// so piping to a file drops the escape codes unless color is forced.
// Lines are truncated to the terminal width when one is known.
//
// [Record] is the structured form used for JSON and CBOR output.
package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/registry"
)

// ColorMode selects when severity colors are emitted.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts auto, always, and never.
func ParseColorMode(name string) (ColorMode, error) {
	switch mode := ColorMode(name); mode {
	case ColorAuto, ColorAlways, ColorNever:
		return mode, nil
	case "":
		return ColorAuto, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always, or never)", name)
	}
}

// Options configures a Printer.
type Options struct {
	Output   io.Writer
	Registry *registry.Registry
	Color    ColorMode
	// Width truncates lines to this many cells. Zero disables
	// truncation.
	Width int
	// ProducerNames maps producer ids to names; unknown ids print as
	// numbers.
	ProducerNames map[uint16]string
}

// Printer formats envelopes as text lines.
type Printer struct {
	options  Options
	severity [envelope.SeverityError + 1]lipgloss.Style
	dim      lipgloss.Style
}

var severityColors = [...]lipgloss.Color{
	envelope.SeverityTrace: lipgloss.Color("8"),
	envelope.SeverityDebug: lipgloss.Color("6"),
	envelope.SeverityInfo:  lipgloss.Color("2"),
	envelope.SeverityWarn:  lipgloss.Color("3"),
	envelope.SeverityError: lipgloss.Color("9"),
}

// NewPrinter builds a printer. A nil Registry renders structured
// payloads as hex.
func NewPrinter(options Options) *Printer {
	if options.Registry == nil {
		options.Registry = registry.New()
	}
	renderer := lipgloss.NewRenderer(options.Output)
	switch options.Color {
	case ColorNever:
		renderer.SetColorProfile(termenv.Ascii)
	case ColorAlways:
		renderer.SetColorProfile(termenv.ANSI256)
	}

	printer := &Printer{options: options, dim: renderer.NewStyle().Faint(true)}
	for severity, color := range severityColors {
		printer.severity[severity] = renderer.NewStyle().Foreground(color).Bold(severity >= int(envelope.SeverityWarn))
	}
	return printer
}

// Line renders e without a trailing newline.
func (p *Printer) Line(e *envelope.Envelope) string {
	var line strings.Builder
	fmt.Fprintf(&line, "%12.6f ", float64(e.Timestamp)/1e9)

	label := fmt.Sprintf("%-5s", e.Severity.String())
	if e.Severity.Valid() {
		label = p.severity[e.Severity].Render(label)
	}
	line.WriteString(label)
	line.WriteByte(' ')

	line.WriteString(p.producerName(e.ProducerID))
	line.WriteString(p.dim.Render(fmt.Sprintf("/%d", e.Sequence)))
	if context := e.ContextString(); context != "" {
		fmt.Fprintf(&line, " [%s]", strings.ToValidUTF8(context, "?"))
	}
	line.WriteByte(' ')

	name, body := p.options.Registry.Describe(e)
	if name != "" {
		line.WriteString(p.dim.Render(name + ":"))
		line.WriteByte(' ')
	}
	line.WriteString(strings.ReplaceAll(body, "\n", `\n`))

	rendered := line.String()
	if p.options.Width > 0 {
		rendered = ansi.Truncate(rendered, p.options.Width, "…")
	}
	return rendered
}

// Print writes Line(e) and a newline.
func (p *Printer) Print(e *envelope.Envelope) error {
	_, err := io.WriteString(p.options.Output, p.Line(e)+"\n")
	return err
}

func (p *Printer) producerName(id uint16) string {
	if name, ok := p.options.ProducerNames[id]; ok {
		return fmt.Sprintf("%s#%d", name, id)
	}
	return fmt.Sprintf("#%d", id)
}

// Record is the structured rendering of an envelope for JSON and CBOR
// output.
type Record struct {
	Timestamp int64  `json:"timestamp" cbor:"timestamp"`
	Severity  string `json:"severity" cbor:"severity"`
	Producer  uint16 `json:"producer" cbor:"producer"`
	Sequence  uint16 `json:"sequence" cbor:"sequence"`
	Context   string `json:"context,omitempty" cbor:"context,omitempty"`
	Tag       uint8  `json:"tag" cbor:"tag"`
	Schema    string `json:"schema,omitempty" cbor:"schema,omitempty"`
	Body      string `json:"body" cbor:"body"`
	Payload   []byte `json:"-" cbor:"payload"`
}

// NewRecord builds the structured rendering of e, describing its
// payload through schemas (which may be nil).
func NewRecord(e *envelope.Envelope, schemas *registry.Registry) Record {
	if schemas == nil {
		schemas = registry.New()
	}
	name, body := schemas.Describe(e)
	return Record{
		Timestamp: e.Timestamp,
		Severity:  e.Severity.String(),
		Producer:  e.ProducerID,
		Sequence:  e.Sequence,
		Context:   strings.ToValidUTF8(e.ContextString(), "?"),
		Tag:       uint8(e.Tag),
		Schema:    name,
		Body:      body,
		Payload:   append([]byte(nil), e.Bytes()...),
	}
}
