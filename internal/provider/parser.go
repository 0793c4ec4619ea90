package provider

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"vodgrab/internal/media"
)

const (
	titleSelector    = ".myui-panel__head h1, h1.title, .myui-panel__head .title, h1"
	coverSelector    = ".myui-vodlist__thumb, .myui-content__thumb img, .lazyload, .cover img"
	playlistSelector = "#playlist a[href*='/play/']"
)

// yearPattern matches a four digit year closing a text run or followed by 年.
var yearPattern = regexp.MustCompile(`(\d{4})(?:/|年)`)

// ParseDetail extracts a VodItem from a detail page document. Play links from
// the playlist keep page order; the fallback over all links is sorted.
func ParseDetail(doc *goquery.Document, detailURL string) (media.VodItem, error) {
	base, err := url.Parse(detailURL)
	if err != nil {
		return media.VodItem{}, fmt.Errorf("%w: bad detail URL %q", ErrExtraction, detailURL)
	}

	item := media.VodItem{
		DetailURL: detailURL,
		Title:     strings.TrimSpace(doc.Find(titleSelector).First().Text()),
	}
	if item.Title == "" {
		item.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if cover := doc.Find(coverSelector).First(); cover.Length() > 0 {
		src := cover.AttrOr("data-original", "")
		if src == "" {
			src = cover.AttrOr("src", "")
		}
		item.Cover = absolute(base, src)
	}

	if m := yearPattern.FindStringSubmatch(textRuns(doc)); m != nil {
		item.Year = m[1]
	}

	item.PlayPages = playLinks(doc, base)

	if item.Title == "" {
		return media.VodItem{}, fmt.Errorf("%w: %s: no title", ErrExtraction, detailURL)
	}
	if len(item.PlayPages) == 0 {
		return media.VodItem{}, fmt.Errorf("%w: %s: no play links", ErrExtraction, detailURL)
	}
	return item, nil
}

func playLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find(playlistSelector).Each(func(_ int, s *goquery.Selection) {
		if href := absolute(base, s.AttrOr("href", "")); href != "" {
			links = append(links, href)
		}
	})
	if len(links) > 0 {
		return lo.Uniq(links)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if !strings.Contains(href, "/play/") {
			return
		}
		if abs := absolute(base, href); abs != "" {
			links = append(links, abs)
		}
	})
	links = lo.Uniq(links)
	sort.Strings(links)
	return links
}

// textRuns joins every non-empty text node with "/" so that the year pattern
// can see where one run ends.
func textRuns(doc *goquery.Document) string {
	var runs []string
	doc.Find("body, body *").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		switch goquery.NodeName(s.Parent()) {
		case "script", "style":
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			runs = append(runs, t)
		}
	})
	return strings.Join(runs, "/")
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
