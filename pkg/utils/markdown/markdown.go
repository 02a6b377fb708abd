// Package markdown carries the markdown review notes attached to jobs and
// renders them to sanitized HTML for the inspection API.
package markdown

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

// Markdown holds markdown source text. The database stores only the source;
// HTML is rendered on demand and cached on the value.
type Markdown struct {
	// Source is the raw markdown text.
	Source string

	rendered *template.HTML
}

var (
	renderer = blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.Safelink |
			blackfriday.NofollowLinks |
			blackfriday.HrefTargetBlank |
			blackfriday.Smartypants |
			blackfriday.SmartypantsFractions |
			blackfriday.SmartypantsDashes |
			blackfriday.SmartypantsLatexDashes |
			blackfriday.SmartypantsAngledQuotes |
			blackfriday.SmartypantsQuotesNBSP,
	})

	extensions = blackfriday.NoIntraEmphasis |
		blackfriday.Tables |
		blackfriday.FencedCode |
		blackfriday.Autolink |
		blackfriday.Strikethrough |
		blackfriday.SpaceHeadings |
		blackfriday.NoEmptyLineBeforeBlock |
		blackfriday.HeadingIDs |
		blackfriday.AutoHeadingIDs |
		blackfriday.DefinitionLists

	// Reviewer notes are untrusted input. UGC strips scripts and event
	// handlers while keeping basic formatting.
	policy = bluemonday.UGCPolicy()
)

// Render returns the source as sanitized HTML.
func (m *Markdown) Render() template.HTML {
	if m.rendered == nil {
		unsafe := blackfriday.Run([]byte(m.Source),
			blackfriday.WithRenderer(renderer),
			blackfriday.WithExtensions(extensions),
		)
		html := template.HTML(bytes.TrimSpace(policy.SanitizeBytes(unsafe)))
		m.rendered = &html
	}
	return *m.rendered
}

func (m *Markdown) setSource(source string) {
	m.Source = source
	m.rendered = nil
}

// Scan implements sql.Scanner.
func (m *Markdown) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		m.setSource("")
	case string:
		m.setSource(v)
	case []byte:
		m.setSource(string(v))
	default:
		return fmt.Errorf("cannot scan type %T into Markdown", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (m Markdown) Value() (driver.Value, error) {
	return m.Source, nil
}

// ScanText implements pgtype.TextScanner for pgx v5.
func (m *Markdown) ScanText(v pgtype.Text) error {
	if !v.Valid {
		m.setSource("")
		return nil
	}
	m.setSource(v.String)
	return nil
}

// TextValue implements pgtype.TextValuer for pgx v5.
func (m Markdown) TextValue() (pgtype.Text, error) {
	return pgtype.Text{String: m.Source, Valid: true}, nil
}

// UnmarshalJSON accepts a plain JSON string, so notes bind straight from a
// review request body.
func (m *Markdown) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Markdown.UnmarshalJSON: %w", err)
	}
	m.setSource(s)
	return nil
}

// MarshalJSON mirrors UnmarshalJSON, emitting the source string.
func (m Markdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Source)
}
