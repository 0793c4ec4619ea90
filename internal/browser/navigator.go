package browser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

const defaultPollInterval = 250 * time.Millisecond

// Navigator loads one NavigationTarget at a time on a shared Session.
type Navigator struct {
	mu      sync.Mutex
	session Session
	poll    time.Duration
	log     *zap.Logger
}

// NewNavigator wraps s. A nil logger disables logging.
func NewNavigator(s Session, log *zap.Logger) *Navigator {
	return &Navigator{session: s, poll: defaultPollInterval, log: logging.OrNop(log)}
}

// Session returns the underlying session.
func (n *Navigator) Session() Session {
	return n.session
}

// Load navigates to target.URL and waits, up to target.SettleDelay, for the
// document to have a non-empty body. It returns the snapshot taken after the wait.
func (n *Navigator) Load(ctx context.Context, target media.NavigationTarget) (media.RenderedPage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.log.Debug("navigating", zap.String("url", target.URL))
	if err := n.session.Navigate(ctx, target.URL); err != nil {
		if errors.Is(err, ErrSessionLost) || ctx.Err() != nil {
			return media.RenderedPage{}, err
		}
		return media.RenderedPage{}, &NavigationError{URL: target.URL, Err: err}
	}

	ready, err := WaitFor(ctx, target.SettleDelay, n.poll, func(ctx context.Context) (bool, error) {
		page, err := n.session.Snapshot(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionLost) {
				return false, err
			}
			return false, nil
		}
		return HasBody(page.HTML), nil
	})
	if err != nil {
		return media.RenderedPage{}, err
	}
	if !ready {
		n.log.Debug("page not ready before settle delay", zap.String("url", target.URL))
	}

	page, err := n.session.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionLost) || ctx.Err() != nil {
			return media.RenderedPage{}, err
		}
		return media.RenderedPage{}, &NavigationError{URL: target.URL, Err: err}
	}
	if page.URL == "" {
		page.URL = target.URL
	}
	if strings.TrimSpace(page.Title) == "" && !HasBody(page.HTML) {
		return media.RenderedPage{}, &NavigationError{URL: target.URL}
	}
	return page, nil
}

// WaitFor polls cond every interval until it reports true, returns an error,
// or timeout elapses. It reports whether cond became true. Cancellation of ctx
// is returned as an error; an elapsed timeout is not.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HasBody reports whether html has a body with text or child elements.
func HasBody(html string) bool {
	if strings.TrimSpace(html) == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return false
	}
	return strings.TrimSpace(body.Text()) != "" || body.Children().Length() > 0
}
