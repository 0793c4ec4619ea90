// Package intercept watches a browser session's traffic for media requests and
// picks the most relevant one.
package intercept

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"vodgrab/internal/browser"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

// DefaultExtensions is the capture scope, highest priority first.
var DefaultExtensions = []string{"m3u8", "mp4", "ts", "flv", "avi", "mkv"}

const pollInterval = 100 * time.Millisecond

// filter matches URLs of one media kind. Its index in Interceptor.filters is its rank.
type filter struct {
	ext string
	re  *regexp.Regexp
}

// Interceptor observes a Session's traffic in bounded windows.
type Interceptor struct {
	session browser.Session
	filters []filter
	poll    time.Duration
	log     *zap.Logger
}

// New builds an Interceptor over s for the given extensions, highest priority
// first. An empty list uses DefaultExtensions.
func New(s browser.Session, extensions []string, log *zap.Logger) (*Interceptor, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	filters := make([]filter, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\.` + regexp.QuoteMeta(ext) + `(?:[^a-z0-9]|$)`)
		if err != nil {
			return nil, fmt.Errorf("compiling filter for %q: %w", ext, err)
		}
		filters = append(filters, filter{ext: ext, re: re})
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("no capture extensions configured")
	}
	return &Interceptor{session: s, filters: filters, poll: pollInterval, log: logging.OrNop(log)}, nil
}

// Scope returns the capture patterns, one per extension.
func (i *Interceptor) Scope() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(i.filters))
	for n, f := range i.filters {
		out[n] = f.re
	}
	return out
}

// Reset clears buffered traffic and installs the capture scope. Call it before
// navigating so the window covers the page's whole load.
func (i *Interceptor) Reset() {
	i.session.ResetTraffic(i.Scope())
}

// Observe waits for a media exchange in two phases of length short and
// extended. It returns early once an exchange of the top-ranked kind has a
// response; at the end of a phase it returns the best responded exchange seen so
// far. The bool is false when nothing in scope was answered in either phase.
func (i *Interceptor) Observe(ctx context.Context, short, extended time.Duration) (media.InterceptedExchange, bool, error) {
	for phase, window := range []time.Duration{short, extended} {
		var best media.InterceptedExchange
		found := false
		_, err := browser.WaitFor(ctx, window, i.poll, func(context.Context) (bool, error) {
			best, found = i.Best(i.session.Exchanges())
			return found && i.rank(best.URL) == 0, nil
		})
		if err != nil {
			return media.InterceptedExchange{}, false, err
		}
		if found {
			i.log.Debug("media request observed",
				zap.Int("phase", phase+1),
				zap.String("kind", best.Kind.String()),
				zap.String("url", best.URL))
			return best, true, nil
		}
	}
	return media.InterceptedExchange{}, false, nil
}

// Best picks the responded exchange with the lowest rank; ties go to the
// earliest observed.
func (i *Interceptor) Best(exchanges []media.InterceptedExchange) (media.InterceptedExchange, bool) {
	var best media.InterceptedExchange
	bestRank := -1
	for _, ex := range exchanges {
		if !ex.Responded {
			continue
		}
		r := i.rank(ex.URL)
		if r < 0 {
			continue
		}
		if bestRank < 0 || r < bestRank || (r == bestRank && ex.Seq < best.Seq) {
			best, bestRank = ex, r
		}
	}
	return best, bestRank >= 0
}

// rank returns the index of the first filter matching url, or -1.
func (i *Interceptor) rank(url string) int {
	// Path extension decides first, so a query mentioning ".mp4" does not
	// outrank an actual playlist path.
	if k := media.KindFromURL(url); k != media.KindUnknown {
		for n, f := range i.filters {
			if f.ext == k.String() {
				return n
			}
		}
	}
	for n, f := range i.filters {
		if f.re.MatchString(url) {
			return n
		}
	}
	return -1
}
