// Package media defines shared types for the vodgrab application.
package media

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaKind is a media file kind inferred from a URL's extension.
// Lower values have higher priority when several kinds are observed together.
type MediaKind int

const (
	KindM3U8 MediaKind = iota
	KindMP4
	KindTS
	KindFLV
	KindAVI
	KindMKV
	KindUnknown
)

var kindExtensions = map[string]MediaKind{
	"m3u8": KindM3U8,
	"mp4":  KindMP4,
	"ts":   KindTS,
	"flv":  KindFLV,
	"avi":  KindAVI,
	"mkv":  KindMKV,
}

func (k MediaKind) String() string {
	switch k {
	case KindM3U8:
		return "m3u8"
	case KindMP4:
		return "mp4"
	case KindTS:
		return "ts"
	case KindFLV:
		return "flv"
	case KindAVI:
		return "avi"
	case KindMKV:
		return "mkv"
	default:
		return "unknown"
	}
}

// ParseKind maps an extension ("m3u8", ".mp4") to a MediaKind.
func ParseKind(ext string) MediaKind {
	if k, ok := kindExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return k
	}
	return KindUnknown
}

// KindFromURL infers the media kind from the extension of the URL path.
// When the path has no known extension, the whole URL is searched for a
// ".ext" token in priority order (players often pass the file as a query value).
func KindFromURL(rawURL string) MediaKind {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if k := ParseKind(path.Ext(p)); k != KindUnknown {
		return k
	}
	lower := strings.ToLower(rawURL)
	for k := KindM3U8; k < KindUnknown; k++ {
		if containsExtToken(lower, "."+k.String()) {
			return k
		}
	}
	return KindUnknown
}

// containsExtToken reports whether token occurs in s not followed by a letter or digit.
func containsExtToken(s, token string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], token)
		if j < 0 {
			return false
		}
		end := i + j + len(token)
		if end == len(s) || !isAlnum(s[end]) {
			return true
		}
		i = end
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z'
}

// NavigationTarget is a single page visit with its readiness wait policy.
type NavigationTarget struct {
	URL            string
	SettleDelay    time.Duration // Upper bound for the rendered-content wait
	ShortWindow    time.Duration // First interception phase
	ExtendedWindow time.Duration // Second interception phase, only if the first found nothing
}

// RenderedPage is a snapshot of a rendered document.
type RenderedPage struct {
	URL   string
	Title string
	HTML  string
}

// InterceptedExchange is one observed network request and, if received, its response.
type InterceptedExchange struct {
	RequestID string
	URL       string
	Kind      MediaKind
	Responded bool
	Status    int
	Seq       int // Observation order within the current window
}

// Source tags where a stream candidate was discovered.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceEmbedded Source = "embedded"
	SourceNone     Source = "none"
)

// StreamCandidate is a URL believed to point at playable media.
type StreamCandidate struct {
	URL    string
	Source Source
}

// EmbeddedPayload is a player variable captured from rendered markup.
type EmbeddedPayload struct {
	Raw      string         // Text as captured
	Repaired string         // Text after heuristic normalisation
	Fields   map[string]any // Parsed object
}

// VodItem is the metadata of a detail page.
type VodItem struct {
	Title     string   `json:"title"`
	Year      string   `json:"year"`
	Cover     string   `json:"cover"`
	DetailURL string   `json:"detail_url"`
	PlayPages []string `json:"play_pages"`
}

// Record is the structured outcome of one processed play page.
type Record struct {
	RunID     string         `json:"run_id"`
	Title     string         `json:"title"`
	Year      string         `json:"year"`
	Episode   int            `json:"episode"`
	DetailURL string         `json:"detail_url"`
	PlayURL   string         `json:"play_url"`
	StreamURL string         `json:"stream_url"`
	Source    Source         `json:"source"`
	Payload   map[string]any `json:"player_payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
