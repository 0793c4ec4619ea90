package extract

import (
	"regexp"
	"strings"
)

var (
	lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

	// A bare word in key position: after '{' or ',' and before ':'.
	// Numeric keys such as 1080 count too.
	bareKey = regexp.MustCompile(`([{,]\s*)([\w$]+)\s*:`)

	// A comma directly before a closing brace or bracket.
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	// The end-of-text form: a comma before the final closing brace.
	trailingCommaAtEnd = regexp.MustCompile(`,\s*}\s*$`)
)

// Repair normalises a loosely-formatted object literal into strict JSON.
// Steps run in a fixed order: strip line breaks, quote bare keys, convert
// single-quoted strings to double-quoted ones, drop trailing commas.
// Repair is pure; input that is already valid JSON stays valid.
func Repair(text string) string {
	out := lineBreaks.Replace(text)
	out = quoteBareKeys(out)
	out = normalizeQuotes(out)
	out = mapOutsideStrings(out, func(chunk string) string {
		return trailingComma.ReplaceAllString(chunk, "$1")
	})
	out = trailingCommaAtEnd.ReplaceAllString(out, "}")
	return out
}

// quoteBareKeys quotes identifiers in key position that sit outside string literals.
func quoteBareKeys(s string) string {
	return mapOutsideStrings(s, func(chunk string) string {
		return bareKey.ReplaceAllString(chunk, `$1"$2":`)
	})
}

// normalizeQuotes rewrites 'x' literals as "x". Double-quoted literals are copied
// as-is, so apostrophes inside them survive.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
			b.WriteByte('"')
		case quote == 0:
			b.WriteByte(c)
		case c == '\\' && i+1 < len(s):
			next := s[i+1]
			i++
			if quote == '\'' && next == '\'' {
				b.WriteByte('\'')
				continue
			}
			b.WriteByte(c)
			b.WriteByte(next)
		case c == quote:
			quote = 0
			b.WriteByte('"')
		case c == '"':
			// Only reachable inside a single-quoted literal.
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// mapOutsideStrings applies fn to the parts of s that are not inside a
// double- or single-quoted literal, leaving literals untouched.
func mapOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	start := 0
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
				b.WriteString(s[start : i+1])
				start = i + 1
			}
			continue
		}
		if c == '"' || c == '\'' {
			b.WriteString(fn(s[start:i]))
			start = i
			quote = c
		}
	}
	if quote != 0 {
		b.WriteString(s[start:])
	} else {
		b.WriteString(fn(s[start:]))
	}
	return b.String()
}
