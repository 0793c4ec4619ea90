// Package extract recovers a stream URL from the player variable that catalog
// pages embed in their rendered markup (e.g. `var player_aaaa = {...}`).
package extract

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"vodgrab/internal/media"
)

// ErrVariableNotFound means the page carries no assignment to the variable.
var ErrVariableNotFound = errors.New("embedded variable not found")

// VariableParseError means the captured text did not survive repair and parsing.
// It is not fatal: discovery continues with network observation only.
type VariableParseError struct {
	Variable string
	Repaired string
	Err      error
}

func (e *VariableParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Variable, e.Err)
}

func (e *VariableParseError) Unwrap() error {
	return e.Err
}

// Result is what Extract recovered. Both fields may be empty.
type Result struct {
	Payload *media.EmbeddedPayload
	URL     string
}

// Extractor finds and parses one named variable.
type Extractor struct {
	variable string
	pattern  *regexp.Regexp
}

// New creates an Extractor for the given variable name.
func New(variable string) *Extractor {
	// First occurrence, non-greedy, ending before a script close, a statement end or EOF.
	pattern := regexp.MustCompile(`var\s+` + regexp.QuoteMeta(variable) + `\s*=\s*(\{[\s\S]*?\})\s*(?:<|;|$)`)
	return &Extractor{variable: variable, pattern: pattern}
}

// Variable returns the name being extracted.
func (e *Extractor) Variable() string {
	return e.variable
}

// Capture returns the raw object literal text assigned to the variable.
func (e *Extractor) Capture(renderedText string) (string, bool) {
	m := e.pattern.FindStringSubmatch(renderedText)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Extract locates the variable in renderedText, repairs and parses it, and
// resolves its url field against baseOrigin.
func (e *Extractor) Extract(renderedText, baseOrigin string) (Result, error) {
	raw, ok := e.Capture(renderedText)
	if !ok {
		return Result{}, ErrVariableNotFound
	}

	repaired := Repair(raw)
	var fields map[string]any
	if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
		return Result{}, &VariableParseError{Variable: e.variable, Repaired: repaired, Err: err}
	}

	res := Result{Payload: &media.EmbeddedPayload{Raw: raw, Repaired: repaired, Fields: fields}}

	rawURL, _ := fields["url"].(string)
	rawURL = decodePlayerURL(rawURL, fields["encrypt"])
	if rawURL == "" {
		return res, nil
	}
	resolved, err := ResolveURL(rawURL, baseOrigin)
	if err != nil {
		return res, nil
	}
	res.URL = resolved
	return res, nil
}

// ResolveURL makes ref absolute. A ref with a scheme is returned unchanged; a
// leading "/" is root-relative to origin; anything else is appended under origin
// as a single path segment.
func ResolveURL(ref, origin string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty url")
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref, nil
	}

	origin = strings.TrimRight(origin, "/")
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base origin %q", origin)
	}

	switch {
	case strings.HasPrefix(ref, "//"):
		return base.Scheme + ":" + ref, nil
	case strings.HasPrefix(ref, "/"):
		return origin + ref, nil
	default:
		return origin + "/" + ref, nil
	}
}

// decodePlayerURL undoes the player's url obfuscation.
// encrypt=1: URL-escaped; encrypt=2: base64 of URL-escaped; otherwise plain.
func decodePlayerURL(raw string, flag any) string {
	switch encryptMode(flag) {
	case 1:
		if s, err := url.QueryUnescape(raw); err == nil {
			return s
		}
	case 2:
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return raw
		}
		if s, err := url.QueryUnescape(string(data)); err == nil {
			return s
		}
		return string(data)
	}
	return raw
}

func encryptMode(flag any) int {
	switch v := flag.(type) {
	case float64:
		return int(v)
	case string:
		switch strings.TrimSpace(v) {
		case "1":
			return 1
		case "2":
			return 2
		}
	}
	return 0
}
