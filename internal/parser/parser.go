// Package parser turns raw message bytes into a structured email.Message.
//
// This is deliberately not an RFC 5322 parser. The internal platform's
// splitter tolerates malformed input instead of erroring, does no MIME
// decoding, and keeps only the last value of a repeated header, and the
// submission path depends on reproducing exactly that. The address helpers
// are shared with the recipient validation pipeline.
package parser

import (
	"strings"

	"github.com/restmail/restmail-receiver/internal/email"
)

// Parse splits raw into headers and body. It never fails: input without a
// colon-separated header, without a blank separator line, or without a body
// simply yields a Message with the corresponding parts missing.
//
// Header lines beginning with a space or tab are continuations and are
// appended to the previous header's value with a single inserted space.
// Header names are split from values on the first colon only. A blank line
// ends header mode; everything after it is the body, joined with "\n" and
// trimmed.
func Parse(raw string) *email.Message {
	msg := &email.Message{Headers: make(map[string]string)}

	lines := strings.Split(raw, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	inHeaders := true
	var name, value string
	var body []string

	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")

		if !inHeaders {
			body = append(body, line)
			continue
		}

		if line == "" {
			if name != "" {
				setHeader(msg, name, value)
			}
			inHeaders = false
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			value += " " + strings.TrimSpace(line)
			continue
		}

		if name != "" {
			setHeader(msg, name, value)
			name, value = "", ""
		}
		if n, v, ok := strings.Cut(line, ":"); ok {
			name = strings.TrimSpace(n)
			value = strings.TrimSpace(v)
		}
	}

	if len(body) > 0 {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		msg.BodyText = &text
	}

	return msg
}

// setHeader records a completed header in the generic map and dispatches
// known names to the structured fields.
func setHeader(msg *email.Message, name, value string) {
	switch strings.ToLower(name) {
	case "from":
		msg.From = ExtractEmail(value)
	case "to":
		msg.To = ParseAddressList(value)
	case "cc":
		msg.Cc = ParseAddressList(value)
	case "bcc":
		msg.Bcc = ParseAddressList(value)
	case "subject":
		v := value
		msg.Subject = &v
	}
	msg.Headers[name] = value
}

// ExtractEmail pulls the bare address out of a "Name <addr>" display form.
// Values without angle brackets are returned trimmed.
func ExtractEmail(value string) string {
	if start := strings.Index(value, "<"); start >= 0 {
		if end := strings.Index(value, ">"); end > start {
			return value[start+1 : end]
		}
	}
	return strings.TrimSpace(value)
}

// ParseAddressList splits a comma-separated address list, extracting the
// bare address from each entry. Empty entries are dropped.
func ParseAddressList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		addr := ExtractEmail(strings.TrimSpace(part))
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// ExtractDomain returns the lower-cased part after the first "@". The
// second return is false when the address has no "@" at all.
func ExtractDomain(address string) (string, bool) {
	_, domain, ok := strings.Cut(address, "@")
	if !ok {
		return "", false
	}
	return strings.ToLower(domain), true
}

// NormalizeEmail strips a plus-addressing tag from the local part, so
// "user+tag@example.com" becomes "user@example.com". Addresses without a
// "+" or without an "@" pass through unchanged.
func NormalizeEmail(address string) string {
	at := strings.Index(address, "@")
	if at < 0 {
		return address
	}
	local, domain := address[:at], address[at:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		return local[:plus] + domain
	}
	return address
}
