package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"BidMailer/internal/config"
	"BidMailer/internal/domain"
	"BidMailer/internal/scanner"
)

const userAgent = "bidmailer/0.1 (+https://github.com/bidmailer/bidmailer)"

// RSSScanner pulls RSS/Atom feeds and maps entries into feed items.
type RSSScanner struct {
	client *http.Client
	now    func() time.Time
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client; the default carries no timeout
// because per-source deadlines come from the scan context.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{}
	}
	return &RSSScanner{client: client, now: time.Now}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan fetches and parses one feed. Entries without a title or link are
// dropped; published timestamps fall back through updated to zero.
func (s *RSSScanner) Scan(ctx context.Context, source config.Source) ([]domain.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	fetchedAt := s.now().UTC()
	items := make([]domain.FeedItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		title := trimmed(entry.Title)
		link := trimmed(entry.Link)
		if link == "" {
			link = trimmed(entry.GUID)
		}
		if title == "" || link == "" {
			continue
		}
		items = append(items, domain.FeedItem{
			Title:       title,
			Summary:     trimmed(firstNonEmpty(entry.Description, entry.Content)),
			URL:         link,
			PublishedAt: publishedTime(entry),
			FetchedAt:   fetchedAt,
		})
	}
	return items, nil
}

func publishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Time{}
}
