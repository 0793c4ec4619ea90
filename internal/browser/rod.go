package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

const blankURL = "about:blank"

// Options configures the launched browser.
type Options struct {
	Bin               string // Empty uses rod's managed Chromium
	Headless          bool
	UserAgent         string // Empty or "auto" keeps the browser default
	NavigationTimeout time.Duration
	Logger            *zap.Logger
}

// RodSession is a Session backed by a Chromium instance driven over CDP.
type RodSession struct {
	opts     Options
	log      *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cancel   context.CancelFunc

	mu        sync.Mutex
	scope     []*regexp.Regexp
	exchanges []media.InterceptedExchange
	index     map[proto.NetworkRequestID]int // Request ID to position in exchanges
	seq       int
	window    int                            // Bumped when a reset window opens
	issued    map[proto.NetworkRequestID]int // Request ID to the window it was sent in
	fenced    bool                           // Reset done, old document not yet torn down
}

// Launch starts a browser, opens one page and begins capturing network events.
// ctx only gates startup; the session lives until Close.
func Launch(ctx context.Context, opts Options) (*RodSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Set(flags.Flag("disable-gpu")).
		Set(flags.Flag("disable-dev-shm-usage"))
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	b := rod.New().ControlURL(controlURL).Context(sessCtx)
	if err := b.Connect(); err != nil {
		cancel()
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	s := newRodSession(opts)
	s.launcher = l
	s.browser = b
	s.cancel = cancel

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening page: %w", err)
	}
	s.page = page

	if ua := opts.UserAgent; ua != "" && ua != "auto" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			s.Close()
			return nil, fmt.Errorf("setting user agent: %w", err)
		}
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		s.Close()
		return nil, fmt.Errorf("enabling network events: %w", err)
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		s.Close()
		return nil, fmt.Errorf("enabling page events: %w", err)
	}

	wait := page.EachEvent(s.onRequest, s.onResponse, s.onFrameNavigated)
	go wait()

	s.log.Debug("browser launched",
		zap.String("control_url", controlURL),
		zap.Bool("headless", opts.Headless))

	return s, nil
}

func newRodSession(opts Options) *RodSession {
	return &RodSession{
		opts:   opts,
		log:    logging.OrNop(opts.Logger),
		index:  make(map[proto.NetworkRequestID]int),
		issued: make(map[proto.NetworkRequestID]int),
	}
}

// Navigate loads url, bounded by the configured navigation timeout. The
// previous document is replaced by about:blank first so its scripts stop
// issuing requests before url starts loading.
func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if s.opts.NavigationTimeout > 0 {
		p = p.Timeout(s.opts.NavigationTimeout)
	}
	if err := p.Navigate(blankURL); err != nil {
		return s.classify(err)
	}
	if err := p.Navigate(url); err != nil {
		return s.classify(err)
	}
	return nil
}

// Snapshot returns the rendered DOM and the document title.
func (s *RodSession) Snapshot(ctx context.Context) (media.RenderedPage, error) {
	p := s.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return media.RenderedPage{}, s.classify(err)
	}
	info, err := p.Info()
	if err != nil {
		return media.RenderedPage{}, s.classify(err)
	}
	return media.RenderedPage{URL: info.URL, Title: info.Title, HTML: html}, nil
}

// ResetTraffic clears the buffer and fences capture until the next Navigate
// has swapped the main frame to about:blank. Only then does the new window
// open; requests sent before it, by the old document or otherwise, never
// enter the buffer and their responses are dropped.
func (s *RodSession) ResetTraffic(scope []*regexp.Regexp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = scope
	s.exchanges = nil
	s.index = make(map[proto.NetworkRequestID]int)
	s.seq = 0
	// IDs older than the window being closed are forgotten.
	for id, w := range s.issued {
		if w < s.window {
			delete(s.issued, id)
		}
	}
	s.fenced = true
}

// Exchanges returns the exchanges captured since the last reset.
func (s *RodSession) Exchanges() []media.InterceptedExchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.InterceptedExchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// Close shuts the page and browser down and removes the profile directory.
func (s *RodSession) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

func (s *RodSession) onRequest(ev *proto.NetworkRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issued[ev.RequestID]; !ok {
		s.issued[ev.RequestID] = s.window
	}
	if s.fenced || !s.inScope(ev.Request.URL) {
		return
	}
	if _, seen := s.index[ev.RequestID]; seen {
		// Redirect hop: keep the latest URL.
		s.exchanges[s.index[ev.RequestID]].URL = ev.Request.URL
		return
	}
	s.appendLocked(ev.RequestID, ev.Request.URL)
}

func (s *RodSession) onResponse(ev *proto.NetworkResponseReceived) {
	if ev.Response == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fenced {
		return
	}
	if w, ok := s.issued[ev.RequestID]; ok && w != s.window {
		return
	}
	i, ok := s.index[ev.RequestID]
	if !ok {
		// Served without a visible request (cache, service worker).
		if !s.inScope(ev.Response.URL) {
			return
		}
		i = s.appendLocked(ev.RequestID, ev.Response.URL)
	}
	s.exchanges[i].Responded = true
	s.exchanges[i].Status = ev.Response.Status
}

// onFrameNavigated opens the window fenced by ResetTraffic once the main
// frame has committed about:blank. Network events are delivered on the same
// stream, so everything the old document sent arrives before this one.
func (s *RodSession) onFrameNavigated(ev *proto.PageFrameNavigated) {
	if ev.Frame == nil || ev.Frame.ParentID != "" || ev.Frame.URL != blankURL {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fenced {
		return
	}
	s.fenced = false
	s.window++
}

func (s *RodSession) appendLocked(id proto.NetworkRequestID, url string) int {
	s.seq++
	s.exchanges = append(s.exchanges, media.InterceptedExchange{
		RequestID: string(id),
		URL:       url,
		Kind:      media.KindFromURL(url),
		Seq:       s.seq,
	})
	i := len(s.exchanges) - 1
	s.index[id] = i
	return i
}

func (s *RodSession) inScope(url string) bool {
	for _, re := range s.scope {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// classify turns an error into ErrSessionLost when the browser stopped answering.
func (s *RodSession) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if s.browser == nil {
		return err
	}
	if _, verr := s.browser.Version(); verr != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return err
}
