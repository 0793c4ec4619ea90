// Package discovery resolves a play page to one canonical stream URL.
package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"vodgrab/internal/browser"
	"vodgrab/internal/extract"
	"vodgrab/internal/httputil"
	"vodgrab/internal/intercept"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

// ErrNoStreamFound means neither network observation nor the embedded
// variable produced a URL.
var ErrNoStreamFound = errors.New("no stream found")

// Resolve picks the canonical candidate. A network candidate always wins over
// an embedded one; nil or empty candidates are ignored.
func Resolve(embedded, network *media.StreamCandidate) (media.StreamCandidate, error) {
	if network != nil && network.URL != "" {
		return media.StreamCandidate{URL: network.URL, Source: media.SourceNetwork}, nil
	}
	if embedded != nil && embedded.URL != "" {
		return media.StreamCandidate{URL: embedded.URL, Source: media.SourceEmbedded}, nil
	}
	return media.StreamCandidate{Source: media.SourceNone}, ErrNoStreamFound
}

// Discovery is everything learned about one play page.
type Discovery struct {
	Page      media.RenderedPage
	Candidate media.StreamCandidate
	Payload   *media.EmbeddedPayload
	Network   *media.StreamCandidate
	Embedded  *media.StreamCandidate
}

// Options holds the per-page wait policy.
type Options struct {
	SettleDelay    time.Duration
	ShortWindow    time.Duration
	ExtendedWindow time.Duration
	BaseOrigin     string // Empty derives the origin from each play URL
}

// Discoverer runs navigation, interception and extraction for one page at a time.
type Discoverer struct {
	mu        sync.Mutex
	nav       *browser.Navigator
	intercept *intercept.Interceptor
	extractor *extract.Extractor
	opts      Options
	log       *zap.Logger
}

// New assembles a Discoverer.
func New(nav *browser.Navigator, icpt *intercept.Interceptor, ex *extract.Extractor, opts Options, log *zap.Logger) *Discoverer {
	return &Discoverer{nav: nav, intercept: icpt, extractor: ex, opts: opts, log: logging.OrNop(log)}
}

// Discover renders playURL and resolves its stream. ErrNoStreamFound comes
// back together with a Discovery whose candidate has source "none".
func (d *Discoverer) Discover(ctx context.Context, playURL string) (Discovery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log := d.log.With(zap.String("play_url", playURL))

	d.intercept.Reset()
	page, err := d.nav.Load(ctx, media.NavigationTarget{
		URL:            playURL,
		SettleDelay:    d.opts.SettleDelay,
		ShortWindow:    d.opts.ShortWindow,
		ExtendedWindow: d.opts.ExtendedWindow,
	})
	if err != nil {
		return Discovery{}, err
	}
	res := Discovery{Page: page}

	ex, ok, err := d.intercept.Observe(ctx, d.opts.ShortWindow, d.opts.ExtendedWindow)
	if err != nil {
		return res, err
	}
	if ok {
		res.Network = &media.StreamCandidate{URL: ex.URL, Source: media.SourceNetwork}
	}

	origin := d.opts.BaseOrigin
	if origin == "" {
		origin, _ = httputil.Origin(playURL)
	}
	embedded, err := d.extractor.Extract(page.HTML, origin)
	var parseErr *extract.VariableParseError
	switch {
	case errors.As(err, &parseErr):
		log.Warn("embedded player variable unparseable", zap.String("variable", parseErr.Variable), zap.Error(parseErr.Err))
	case errors.Is(err, extract.ErrVariableNotFound):
		log.Debug("no embedded player variable", zap.String("variable", d.extractor.Variable()))
	case err != nil:
		log.Warn("extracting embedded player variable", zap.Error(err))
	}
	res.Payload = embedded.Payload
	if embedded.URL != "" {
		res.Embedded = &media.StreamCandidate{URL: embedded.URL, Source: media.SourceEmbedded}
	}

	res.Candidate, err = Resolve(res.Embedded, res.Network)
	if err != nil {
		log.Info("no stream found")
		return res, err
	}
	if res.Network != nil && res.Embedded != nil && res.Network.URL != res.Embedded.URL {
		log.Debug("network candidate overrides embedded",
			zap.String("network", res.Network.URL),
			zap.String("embedded", res.Embedded.URL))
	}
	log.Info("stream resolved", zap.String("source", string(res.Candidate.Source)), zap.String("url", res.Candidate.URL))
	return res, nil
}
