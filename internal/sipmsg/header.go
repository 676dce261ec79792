// Package sipmsg reads values out of captured SIP message text. It never
// fails: captures are often truncated, so every helper degrades to an empty
// result instead of returning an error.
package sipmsg

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Header returns the value of the first header called name in raw, matched
// case-insensitively. Compact header forms (f:, t:, i:, ...) are understood
// when raw parses as a complete SIP message; otherwise the text is scanned
// line by line until the blank line that ends the header block.
func Header(raw, name string) string {
	if raw == "" || name == "" {
		return ""
	}
	if msg, err := sip.ParseMessage([]byte(raw)); err == nil {
		if hs := msg.GetHeaders(name); len(hs) > 0 {
			return strings.TrimSpace(hs[0].Value())
		}
		return ""
	}
	return scanHeader(raw, name)
}

func scanHeader(raw, name string) string {
	prefix := strings.ToLower(name) + ":"
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if i > 0 && line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

// UserAgent returns the User-Agent header, or Server for responses.
func UserAgent(raw string) string {
	if ua := Header(raw, "User-Agent"); ua != "" {
		return ua
	}
	return Header(raw, "Server")
}

// HasSDP reports whether the message body is an SDP offer or answer.
func HasSDP(raw string) bool {
	return strings.Contains(strings.ToLower(Header(raw, "Content-Type")), "application/sdp")
}

// FirstLine returns the first non-blank line of raw, trimmed.
func FirstLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
