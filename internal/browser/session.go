// Package browser drives a real browser to render pages and capture the
// network traffic they generate.
package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"vodgrab/internal/media"
)

// ErrSessionLost means the browser connection is gone. It is fatal for a batch.
var ErrSessionLost = errors.New("browser session lost")

// NavigationError reports a page that could not be loaded or rendered nothing.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("navigating to %s: page rendered nothing", e.URL)
	}
	return fmt.Sprintf("navigating to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Session is a single browser page plus its traffic buffer.
// Implementations are not required to be safe for concurrent navigation;
// Navigator serialises access.
type Session interface {
	// Navigate loads url in the page.
	Navigate(ctx context.Context, url string) error
	// Snapshot returns the current rendered document.
	Snapshot(ctx context.Context) (media.RenderedPage, error)
	// ResetTraffic drops buffered exchanges and captures only URLs matching
	// one of scope. Traffic of the document loaded before the reset is never
	// captured, even when it arrives after the next Navigate starts.
	ResetTraffic(scope []*regexp.Regexp)
	// Exchanges returns a copy of the exchanges captured since the last reset,
	// in observation order.
	Exchanges() []media.InterceptedExchange
	// Close releases the browser.
	Close() error
}
