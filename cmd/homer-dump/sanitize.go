package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/sweeney/homer-callflow/internal/capture"
)

var (
	ipPattern    = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern = regexp.MustCompile(`\b1?\d{10}\b`)
	// Credentials carried in SIP headers
	authPattern = regexp.MustCompile(`(?im)^((?:Proxy-)?Authorization:\s*).+?(\r?)$`)
	// Header lines that carry caller and callee numbers
	partyHeader = regexp.MustCompile(`(?i)^(From|To|Contact|P-Asserted-Identity|Remote-Party-ID|f|t|m):`)
)

var partyFields = map[string]bool{
	"from_user": true,
	"to_user":   true,
	"ruri_user": true,
	"caller":    true,
	"callee":    true,
}

const fakePhone = "15550001234"

// sanitizer rewrites a capture so it can be committed as a fixture. Every
// distinct IP address maps to its own 10.0.0.N so the call topology stays
// intact; loopback is kept.
type sanitizer struct {
	ips map[string]string
}

func newSanitizer() *sanitizer {
	return &sanitizer{ips: make(map[string]string)}
}

func (s *sanitizer) ip(addr string) string {
	if addr == "127.0.0.1" {
		return addr
	}
	if mapped, ok := s.ips[addr]; ok {
		return mapped
	}
	mapped := fmt.Sprintf("10.0.0.%d", len(s.ips)+1)
	s.ips[addr] = mapped
	return mapped
}

func (s *sanitizer) text(v string) string {
	return ipPattern.ReplaceAllStringFunc(v, s.ip)
}

func (s *sanitizer) raw(v string) string {
	v = authPattern.ReplaceAllString(v, "${1}REDACTED${2}")
	lines := strings.Split(v, "\n")
	for i, line := range lines {
		// The request line carries the dialled number
		if i == 0 || partyHeader.MatchString(line) {
			lines[i] = phonePattern.ReplaceAllString(line, fakePhone)
		}
	}
	return s.text(strings.Join(lines, "\n"))
}

// walk rewrites a decoded JSON value. Object keys are visited in sorted
// order so the IP numbering is stable.
func (s *sanitizer) walk(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[s.text(k)] = s.walk(k, val[k])
		}
		return out
	case []any:
		for i := range val {
			val[i] = s.walk(key, val[i])
		}
		return val
	case string:
		switch {
		case key == "raw":
			return s.raw(val)
		case partyFields[key]:
			return phonePattern.ReplaceAllString(s.text(val), fakePhone)
		default:
			return s.text(val)
		}
	default:
		return v
	}
}

// sanitize rewrites a Homer response body.
func sanitize(body []byte) ([]byte, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}
	out, err := json.MarshalIndent(newSanitizer().walk("", doc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding capture: %w", err)
	}
	return append(out, '\n'), nil
}

// sanitizeFile rewrites a capture in place, keeping the original as .bak.
func sanitizeFile(path string) error {
	data, err := capture.ReadFile(path)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	clean, err := sanitize(data)
	if err != nil {
		return err
	}
	return capture.WriteFile(path, clean)
}
