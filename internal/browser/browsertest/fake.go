// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"regexp"
	"sync"

	"vodgrab/internal/browser"
	"vodgrab/internal/media"
)

var _ browser.Session = (*Session)(nil)

// Session is a scripted browser.Session. Pages are keyed by URL; Traffic lists
// the requests a page issues when it is navigated to.
type Session struct {
	Pages       map[string]media.RenderedPage
	Traffic     map[string][]media.InterceptedExchange
	NavigateErr error
	SnapshotErr error

	mu        sync.Mutex
	navigated []string
	current   string
	scope     []*regexp.Regexp
	exchanges []media.InterceptedExchange
	resets    int
	closed    bool
}

// New returns an empty scripted session.
func New() *Session {
	return &Session{
		Pages:   make(map[string]media.RenderedPage),
		Traffic: make(map[string][]media.InterceptedExchange),
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	err := s.NavigateErr
	if err == nil {
		s.current = url
	}
	traffic := s.Traffic[url]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, ex := range traffic {
		s.Emit(ex)
	}
	return nil
}

func (s *Session) Snapshot(ctx context.Context) (media.RenderedPage, error) {
	if err := ctx.Err(); err != nil {
		return media.RenderedPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SnapshotErr != nil {
		return media.RenderedPage{}, s.SnapshotErr
	}
	page := s.Pages[s.current]
	if page.URL == "" {
		page.URL = s.current
	}
	return page, nil
}

func (s *Session) ResetTraffic(scope []*regexp.Regexp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = scope
	s.exchanges = nil
	s.resets++
}

func (s *Session) Exchanges() []media.InterceptedExchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.InterceptedExchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Emit records ex as if the page had issued it now. Seq and Kind are assigned
// here; out-of-scope URLs are dropped.
func (s *Session) Emit(ex media.InterceptedExchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := false
	for _, re := range s.scope {
		if re.MatchString(ex.URL) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	ex.Seq = len(s.exchanges) + 1
	ex.Kind = media.KindFromURL(ex.URL)
	s.exchanges = append(s.exchanges, ex)
}

// Navigated returns every URL passed to Navigate, in order.
func (s *Session) Navigated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

// Resets returns how many times ResetTraffic was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
