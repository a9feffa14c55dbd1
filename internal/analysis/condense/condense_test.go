package condense

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New("pdf", 0)
	require.Error(t, err)

	c, err := New("", 0)
	require.NoError(t, err)
	require.Equal(t, FormatHTML, c.Format())
}

func TestCondenseHTMLPassThrough(t *testing.T) {
	t.Parallel()

	c, err := New(FormatHTML, 0)
	require.NoError(t, err)
	out, format := c.Condense("<h1>Hi</h1>")
	require.Equal(t, "<h1>Hi</h1>", out)
	require.Equal(t, FormatHTML, format)
}

func TestCondenseMarkdown(t *testing.T) {
	t.Parallel()

	c, err := New(FormatMarkdown, 0)
	require.NoError(t, err)
	out, format := c.Condense(`<html><body><h1>Pricing</h1><p>Starter plan <strong>£9</strong></p></body></html>`)
	require.Equal(t, FormatMarkdown, format)
	require.Contains(t, out, "# Pricing")
	require.Contains(t, out, "**£9**")
	require.NotContains(t, out, "<p>")
}

func TestCondenseMarkdownEmptyResultFallsBack(t *testing.T) {
	t.Parallel()

	c, err := New(FormatMarkdown, 0)
	require.NoError(t, err)
	raw := `<html><head><script>var a = 1;</script></head><body></body></html>`
	out, format := c.Condense(raw)
	require.Equal(t, raw, out)
	require.Equal(t, FormatHTML, format, "fallback content is labelled as HTML")
}

func TestCondenseTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	c, err := New(FormatHTML, 4)
	require.NoError(t, err)
	out, _ := c.Condense("abcdef")
	require.Equal(t, "abcd", out)
	// "é" is two bytes; cutting at 4 would split it.
	out, _ = c.Condense("abcé" + "x")
	require.Equal(t, "abc", out)
}

func TestNilCondenserIsIdentity(t *testing.T) {
	t.Parallel()

	var c *Condenser
	out, format := c.Condense("x")
	require.Equal(t, "x", out)
	require.Equal(t, FormatHTML, format)
	require.Equal(t, FormatHTML, c.Format())
}
