// Package textenc handles the two text boundaries of the daemon: raw bytes
// arriving from IRC clients, and entry text coming back from the remote API.
//
// IRC has no encoding negotiation, so inbound lines are decoded by trying
// UTF-8 first and falling back to ISO-8859-1 (which maps every byte to a code
// point, so the fallback never fails). Outbound text is always UTF-8.
//
// Entry text is HTML-entity encoded by the remote service, and '<' and '>'
// are encoded twice, so display text goes through a full entity decode
// followed by a second pass for &lt; and &gt;.
package textenc

import (
	"html"
	"strings"
	"unicode/utf8"
)

// Decode converts raw client bytes into a string: UTF-8 when valid,
// ISO-8859-1 otherwise.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	// Latin-1: every byte maps directly to the code point of the same value.
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

// EntityDecode resolves named and numeric HTML entity references.
func EntityDecode(s string) string {
	return html.UnescapeString(s)
}

// undoXSSEscaping reverses the extra escaping the remote service applies to
// angle brackets on top of the normal entity encoding.
func undoXSSEscaping(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	return strings.ReplaceAll(s, "&gt;", ">")
}

// FullEntityDecode decodes entry text for display. Angle brackets arrive
// double-encoded ("&amp;lt;"), so the entity decode is followed by a second
// pass for &lt;/&gt;.
func FullEntityDecode(s string) string {
	return undoXSSEscaping(html.UnescapeString(s))
}

// OneLine collapses CR/LF into spaces so the text is safe inside a single
// IRC message.
func OneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
