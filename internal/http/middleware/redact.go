// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the scrubbing used by the access logger. Request
// bodies are never logged; query strings and (optionally) headers are, after
// common identifiers are replaced:
//
//   - UUIDs          → [REDACTED:id]
//   - email address  → [REDACTED:email]
//   - phone numbers  → [REDACTED:phone]
//
// Sensitive headers (Authorization, Cookie, Set-Cookie, plus any configured
// extras) are masked entirely.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex segments of ids are never taken for phone numbers.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures the access log scrubbing.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced with "[REDACTED]". LogHeaders adds the scrubbed request headers to
// every access log line.
type RedactOptions struct {
	MaskHeaders []string
	LogHeaders  bool
}

// Redactor scrubs PII from strings and header sets. It is safe for
// concurrent use.
type Redactor struct {
	mask map[string]struct{}
}

// NewRedactor returns a Redactor masking the built-in sensitive headers plus
// opts.MaskHeaders.
func NewRedactor(opts RedactOptions) *Redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &Redactor{mask: mask}
}

// Scrub replaces ids, emails and phone numbers in s. Ids go first because the
// phone pattern is the loosest.
func (r *Redactor) Scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers returns a scrubbed, flattened copy of h.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.Scrub(strings.Join(vv, ", "))
	}
	return out
}
