package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vodgrab/internal/browser"
	"vodgrab/internal/browser/browsertest"
	"vodgrab/internal/media"
)

func target(url string) media.NavigationTarget {
	return media.NavigationTarget{URL: url, SettleDelay: 50 * time.Millisecond}
}

func TestLoadReturnsRenderedPage(t *testing.T) {
	s := browsertest.New()
	s.Pages["https://site.test/play/1"] = media.RenderedPage{
		Title: "Episode 1",
		HTML:  "<html><body><div id=player></div></body></html>",
	}
	nav := browser.NewNavigator(s, nil)

	page, err := nav.Load(context.Background(), target("https://site.test/play/1"))
	require.NoError(t, err)
	assert.Equal(t, "Episode 1", page.Title)
	assert.Equal(t, "https://site.test/play/1", page.URL)
	assert.Equal(t, []string{"https://site.test/play/1"}, s.Navigated())
}

func TestLoadEmptyPageIsNavigationError(t *testing.T) {
	s := browsertest.New()
	s.Pages["https://site.test/blank"] = media.RenderedPage{HTML: "<html><head></head><body>  </body></html>"}
	nav := browser.NewNavigator(s, nil)

	_, err := nav.Load(context.Background(), target("https://site.test/blank"))
	var navErr *browser.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "https://site.test/blank", navErr.URL)
}

func TestLoadNavigateFailure(t *testing.T) {
	s := browsertest.New()
	s.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	nav := browser.NewNavigator(s, nil)

	_, err := nav.Load(context.Background(), target("https://nowhere.test/"))
	var navErr *browser.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.ErrorIs(t, err, s.NavigateErr)
}

func TestLoadSessionLostIsNotWrapped(t *testing.T) {
	s := browsertest.New()
	s.NavigateErr = browser.ErrSessionLost
	nav := browser.NewNavigator(s, nil)

	_, err := nav.Load(context.Background(), target("https://site.test/"))
	require.ErrorIs(t, err, browser.ErrSessionLost)
	var navErr *browser.NavigationError
	assert.False(t, errors.As(err, &navErr))
}

func TestWaitFor(t *testing.T) {
	t.Run("becomes ready", func(t *testing.T) {
		calls := 0
		ok, err := browser.WaitFor(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, calls)
	})

	t.Run("timeout is not an error", func(t *testing.T) {
		ok, err := browser.WaitFor(context.Background(), 10*time.Millisecond, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("condition error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := browser.WaitFor(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := browser.WaitFor(ctx, time.Hour, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHasBody(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"empty", "", false},
		{"blank body", "<html><body>\n</body></html>", false},
		{"text", "<html><body>hello</body></html>", true},
		{"element only", "<html><body><video></video></body></html>", true},
		{"fragment", "<p>x</p>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, browser.HasBody(tt.html))
		})
	}
}
