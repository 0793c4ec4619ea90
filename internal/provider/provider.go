// Package provider turns catalog detail pages into VodItems.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"vodgrab/internal/browser"
	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

// ErrExtraction means a detail page had no title or no play links.
var ErrExtraction = errors.New("detail page extraction failed")

// Provider resolves a detail page to its metadata and play pages.
type Provider interface {
	Detail(ctx context.Context, detailURL string) (media.VodItem, error)
}

// Site loads detail pages through the shared browser session. Detail pages
// need rendering but no traffic observation.
type Site struct {
	nav         *browser.Navigator
	settleDelay time.Duration
	log         *zap.Logger
}

// NewSite creates a Site that waits up to settleDelay for each page to render.
func NewSite(nav *browser.Navigator, settleDelay time.Duration, log *zap.Logger) *Site {
	return &Site{nav: nav, settleDelay: settleDelay, log: logging.OrNop(log)}
}

// Detail renders detailURL and parses it.
func (s *Site) Detail(ctx context.Context, detailURL string) (media.VodItem, error) {
	page, err := s.nav.Load(ctx, media.NavigationTarget{URL: detailURL, SettleDelay: s.settleDelay})
	if err != nil {
		return media.VodItem{}, err
	}
	item, err := ParseDetailHTML(page.HTML, detailURL)
	if err != nil {
		return media.VodItem{}, err
	}
	s.log.Debug("detail parsed",
		zap.String("url", detailURL),
		zap.String("title", item.Title),
		zap.Int("play_pages", len(item.PlayPages)))
	return item, nil
}

// ParseDetailHTML parses rendered detail-page markup.
func ParseDetailHTML(html, detailURL string) (media.VodItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return media.VodItem{}, fmt.Errorf("parsing detail page %s: %w", detailURL, err)
	}
	return ParseDetail(doc, detailURL)
}
