package sipmsg

import (
	"strings"

	"github.com/sweeney/homer-callflow/internal/capture"
)

const statusPrefix = "SIP/2.0 "

// StatusCode returns the response code from a status line at the very start
// of raw ("SIP/2.0 180 Ringing" -> 180), or 0 when raw is not a response.
func StatusCode(raw string) int {
	if !strings.HasPrefix(raw, statusPrefix) {
		return 0
	}
	rest := raw[len(statusPrefix):]
	if len(rest) < 3 {
		return 0
	}
	code := 0
	for i := 0; i < 3; i++ {
		c := rest[i]
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	if len(rest) > 3 && rest[3] != ' ' && rest[3] != '\r' && rest[3] != '\n' {
		return 0
	}
	return code
}

// FindResponse returns the timestamp of the first record whose raw text is
// a response with the given status code, or 0 if there is none.
func FindResponse(records []capture.Record, code int) int64 {
	for _, r := range records {
		if StatusCode(r.Raw) == code {
			return r.Timestamp
		}
	}
	return 0
}
