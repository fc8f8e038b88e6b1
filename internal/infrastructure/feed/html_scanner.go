package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"BidMailer/internal/config"
	"BidMailer/internal/domain"
	"BidMailer/internal/scanner"
)

// Selector option keys understood by the HTML scanner. Sources using this
// strategy configure them under options in the sources list.
const (
	optionItemSelector    = "item"
	optionTitleSelector   = "title"
	optionLinkSelector    = "link"
	optionSummarySelector = "summary"
)

// HTMLScanner walks a procurement listing page using config-driven CSS
// selectors. It covers agencies that publish plain HTML tables instead of
// feeds.
type HTMLScanner struct {
	client *http.Client
	now    func() time.Time
}

var _ scanner.Scanner = (*HTMLScanner)(nil)

// NewHTMLScanner wires an HTTP client; deadlines come from the scan context.
func NewHTMLScanner(client *http.Client) *HTMLScanner {
	if client == nil {
		client = &http.Client{}
	}
	return &HTMLScanner{client: client, now: time.Now}
}

// Name identifies the strategy inside the registry.
func (s *HTMLScanner) Name() string {
	return "html"
}

// Scan fetches the listing page and extracts one item per matched node.
// Relative links resolve against the source URL. Nodes without a title or
// link are skipped.
func (s *HTMLScanner) Scan(ctx context.Context, source config.Source) ([]domain.FeedItem, error) {
	itemSel := strings.TrimSpace(source.Options[optionItemSelector])
	titleSel := strings.TrimSpace(source.Options[optionTitleSelector])
	linkSel := strings.TrimSpace(source.Options[optionLinkSelector])
	if itemSel == "" || titleSel == "" || linkSel == "" {
		return nil, fmt.Errorf("source %s: html scanner needs %q, %q and %q options", source.ID, optionItemSelector, optionTitleSelector, optionLinkSelector)
	}
	summarySel := strings.TrimSpace(source.Options[optionSummarySelector])

	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("source url: %w", err)
	}

	doc, err := s.fetchDocument(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	fetchedAt := s.now().UTC()
	var items []domain.FeedItem
	doc.Find(itemSel).Each(func(_ int, node *goquery.Selection) {
		title := trimmed(node.Find(titleSel).First().Text())
		link := resolveLink(base, node.Find(linkSel).First())
		if title == "" || link == "" {
			return
		}
		summary := ""
		if summarySel != "" {
			summary = trimmed(node.Find(summarySel).First().Text())
		}
		items = append(items, domain.FeedItem{
			Title:     title,
			Summary:   summary,
			URL:       link,
			FetchedAt: fetchedAt,
		})
	})
	return items, nil
}

func (s *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

func resolveLink(base *url.URL, sel *goquery.Selection) string {
	href := trimmed(sel.AttrOr("href", ""))
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
