// Package redact filters sensitive values out of message content before it
// is persisted. Redaction runs at the storage boundary so raw values never
// land in the conversation log, regardless of which surface produced them.
package redact

import (
	"regexp"
	"strings"
)

// Redactor rewrites message content, replacing sensitive spans with
// placeholders. Implementations must be safe for concurrent use.
type Redactor interface {
	Redact(content string) string
}

// Nop is a Redactor that passes content through unchanged.
type Nop struct{}

func (Nop) Redact(content string) string {
	return content
}

// pattern pairs a compiled regexp with its replacement placeholder.
type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

// Standard implements the default redaction policy: credit card numbers,
// US social security numbers, and bearer-style secrets in obvious
// key=value shapes.
type Standard struct {
	patterns []pattern
}

// NewStandard returns the default Redactor.
func NewStandard() *Standard {
	return &Standard{
		patterns: []pattern{
			// 13-19 digit card numbers, optionally separated by spaces or dashes
			// in groups of four. Validated with Luhn before replacing so order
			// numbers and ids survive.
			{
				re:          regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
				placeholder: "[REDACTED-CARD]",
			},
			{
				re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				placeholder: "[REDACTED-SSN]",
			},
			{
				re:          regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password)\s*[=:]\s*\S+`),
				placeholder: "[REDACTED-SECRET]",
			},
		},
	}
}

// Redact applies every pattern in order and returns the rewritten content.
func (s *Standard) Redact(content string) string {
	for _, p := range s.patterns {
		content = p.re.ReplaceAllStringFunc(content, func(match string) string {
			if p.placeholder == "[REDACTED-CARD]" && !luhnValid(match) {
				return match
			}
			return p.placeholder
		})
	}

	return content
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}

	return sum%10 == 0
}
