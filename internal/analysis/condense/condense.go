// Package condense shrinks page snapshots before they are sent for analysis.
package condense

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Input formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Condenser converts and truncates snapshot content.
type Condenser struct {
	format   string
	maxBytes int
	conv     *converter.Converter
}

// New builds a Condenser. maxBytes <= 0 disables truncation.
func New(format string, maxBytes int) (*Condenser, error) {
	switch format {
	case "", FormatHTML:
		format = FormatHTML
	case FormatMarkdown:
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
	c := &Condenser{format: format, maxBytes: maxBytes}
	if format == FormatMarkdown {
		c.conv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	}
	return c, nil
}

// Format reports the configured output format.
func (c *Condenser) Format() string {
	if c == nil {
		return FormatHTML
	}
	return c.format
}

// Condense returns content in the configured format along with the format
// actually produced. Conversion failures and empty conversions fall back to
// the raw input, reported as HTML.
func (c *Condenser) Condense(content string) (string, string) {
	if c == nil {
		return content, FormatHTML
	}
	out, format := content, FormatHTML
	if c.conv != nil && content != "" {
		md, err := c.conv.ConvertString(content)
		if err == nil && strings.TrimSpace(md) != "" {
			out, format = strings.TrimSpace(md), FormatMarkdown
		}
	}
	return truncate(out, c.maxBytes), format
}

func truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
