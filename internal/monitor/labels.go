package monitor

import (
	"net/url"
	"strings"
)

const defaultSubcategory = "General"

// SnapshotKey returns the store key holding the last snapshot for rawURL.
// The encoding matches JavaScript's encodeURIComponent so keys written by
// earlier deployments stay addressable.
func SnapshotKey(rawURL string) string {
	return SnapshotKeyPrefix + encodeURIComponent(rawURL)
}

// Competitor derives the competitor label from the URL host, dropping a
// leading "www.". Unparseable URLs are labelled with the raw input.
func Competitor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Subcategory derives a topical label from the URL path. It prefers the first
// segment longer than three characters that is not a bare country or TLD
// token, falls back to the last segment, and title-cases the result with
// hyphens turned into spaces.
func Subcategory(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultSubcategory
	}
	var segments []string
	for _, s := range strings.Split(u.EscapedPath(), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return defaultSubcategory
	}
	chosen := segments[len(segments)-1]
	for _, s := range segments {
		if len(s) > 3 && !isCountryToken(s) {
			chosen = s
			break
		}
	}
	return titleWords(strings.ReplaceAll(chosen, "-", " "))
}

func isCountryToken(s string) bool {
	return s == "uk" || s == "com"
}

// titleWords upper-cases the first word character after every word boundary.
func titleWords(s string) string {
	b := []byte(s)
	prevWord := false
	for i, c := range b {
		word := isWordByte(c)
		if word && !prevWord && c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
		prevWord = word
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

const upperHex = "0123456789ABCDEF"

func encodeURIComponent(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}
	return sb.String()
}

func isURIUnreserved(c byte) bool {
	if isWordByte(c) {
		return true
	}
	switch c {
	case '-', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
