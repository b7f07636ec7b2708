// Package scrape holds the site adapters for the sixteen district boards.
// All adapters share one contract and one goquery-based board walker; what
// varies per district is a declarative profile (URL template, selectors,
// request method, link extraction style).
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// LinkStyle selects how detail-page links are pulled from a listing page.
type LinkStyle int

// Link extraction styles observed across the district boards.
const (
	LinkHref LinkStyle = iota
	LinkOnClick
	LinkRegex
)

var onclickPathRe = regexp.MustCompile(`'(/[^']+)'`)

// Profile declares one district board's structure.
type Profile struct {
	ListURL         string // contains {page}
	Method          string // http.MethodGet or http.MethodPost
	PostParams      func(page int) url.Values
	ListSelector    string
	ContentSelector string
	LinkStyle       LinkStyle
	LinkPattern     string                      // regex with one capture group, LinkRegex only
	DetailURL       string                      // contains {id}, LinkRegex only
	OnClickLink     func(onclick string) string // custom onclick parser, LinkOnClick only
	BrTag           string                      // literal <br> variant replaced with newlines
}

// Board is the shared adapter implementation behind every district.
type Board struct {
	district notice.District
	profile  Profile
	fetcher  notice.Fetcher
	maxPages int
	logger   *zap.Logger
}

// NewBoard builds one district adapter from its profile.
func NewBoard(district notice.District, profile Profile, fetcher notice.Fetcher, maxPages int, logger *zap.Logger) *Board {
	if maxPages <= 0 {
		maxPages = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		district: district,
		profile:  profile,
		fetcher:  fetcher,
		maxPages: maxPages,
		logger:   logger,
	}
}

// District returns the registry entry this adapter serves.
func (b *Board) District() notice.District {
	return b.district
}

// Scrape walks listing pages in order and returns one candidate per
// announcement detail page. An empty result is a normal quiet day.
func (b *Board) Scrape(ctx context.Context) ([]notice.RawCandidate, error) {
	var out []notice.RawCandidate
	seen := make(map[string]bool)

	for page := 1; page <= b.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		listing, err := b.fetchListing(ctx, page)
		if err != nil {
			return nil, err
		}

		links, err := b.extractLinks(listing)
		if err != nil {
			return nil, err
		}
		if len(links) == 0 {
			break // past the last page, or a quiet board
		}

		for _, link := range links {
			if seen[link] {
				continue
			}
			seen[link] = true

			text, err := b.fetchContent(ctx, link)
			if err != nil {
				return nil, err
			}
			if text == "" {
				continue
			}
			out = append(out, notice.RawCandidate{
				District: b.district.Code,
				URL:      link,
				RawText:  text,
			})
		}
	}

	return out, nil
}

func (b *Board) fetchListing(ctx context.Context, page int) (notice.FetchResponse, error) {
	req := notice.FetchRequest{
		District: b.district.Code,
		Method:   b.profile.Method,
		URL:      strings.ReplaceAll(b.profile.ListURL, "{page}", fmt.Sprintf("%d", page)),
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Method == http.MethodPost && b.profile.PostParams != nil {
		req.Form = b.profile.PostParams(page)
	}
	return b.fetcher.Fetch(ctx, req)
}

func (b *Board) extractLinks(listing notice.FetchResponse) ([]string, error) {
	if b.profile.LinkStyle == LinkRegex {
		return b.extractLinksRegex(listing)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(listing.Body))
	if err != nil {
		return nil, &notice.ParseError{District: b.district.Code, URL: listing.URL, Reason: "listing not parseable as HTML"}
	}

	container := doc.Find(b.profile.ListSelector)
	if container.Length() == 0 {
		return nil, &notice.ParseError{District: b.district.Code, URL: listing.URL, Reason: fmt.Sprintf("list selector %q matched nothing", b.profile.ListSelector)}
	}

	var links []string
	container.Find("a").Each(func(_ int, sel *goquery.Selection) {
		var path string
		switch b.profile.LinkStyle {
		case LinkOnClick:
			onclick, ok := sel.Attr("onclick")
			if !ok {
				return
			}
			if b.profile.OnClickLink != nil {
				path = b.profile.OnClickLink(onclick)
			} else if m := onclickPathRe.FindStringSubmatch(onclick); m != nil {
				path = m[1]
			}
			if path == "" {
				return
			}
		default:
			href, ok := sel.Attr("href")
			if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
				return
			}
			path = href
		}
		if abs := b.resolve(path); abs != "" {
			links = append(links, abs)
		}
	})

	return links, nil
}

func (b *Board) extractLinksRegex(listing notice.FetchResponse) ([]string, error) {
	re, err := regexp.Compile(b.profile.LinkPattern)
	if err != nil {
		return nil, fmt.Errorf("link pattern for %s: %w", b.district.Code, err)
	}
	var links []string
	for _, m := range re.FindAllStringSubmatch(string(listing.Body), -1) {
		if len(m) < 2 {
			continue
		}
		if b.profile.DetailURL != "" {
			links = append(links, strings.ReplaceAll(b.profile.DetailURL, "{id}", m[1]))
			continue
		}
		if abs := b.resolve(m[1]); abs != "" {
			links = append(links, abs)
		}
	}
	return links, nil
}

func (b *Board) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base, err := url.Parse(b.district.BaseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func (b *Board) fetchContent(ctx context.Context, detailURL string) (string, error) {
	resp, err := b.fetcher.Fetch(ctx, notice.FetchRequest{
		District: b.district.Code,
		URL:      detailURL,
	})
	if err != nil {
		return "", err
	}

	html := string(resp.Body)
	brTag := b.profile.BrTag
	if brTag == "" {
		brTag = "<br/>"
	}
	for _, variant := range []string{brTag, "<br>", "<br/>", "<br />"} {
		html = strings.ReplaceAll(html, variant, "\n")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", &notice.ParseError{District: b.district.Code, URL: detailURL, Reason: "detail not parseable as HTML"}
	}

	container := doc.Find(b.profile.ContentSelector)
	if container.Length() == 0 {
		return "", &notice.ParseError{District: b.district.Code, URL: detailURL, Reason: fmt.Sprintf("content selector %q matched nothing", b.profile.ContentSelector)}
	}

	return strings.TrimSpace(container.First().Text()), nil
}
