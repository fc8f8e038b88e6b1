package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"BidMailer/internal/config"
	"BidMailer/internal/domain"
	"BidMailer/internal/normalize"
	"BidMailer/internal/ports"
	"BidMailer/internal/scanner"
)

// StrategySource implements ItemSource via registered scanner strategies.
// Each source gets its own timeout and bounded retries; a source that
// exhausts its attempts becomes a SourceFailure and never blocks the rest.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.Source
	logger   *slog.Logger
}

var _ ports.ItemSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.Source, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// FetchAll iterates over enabled sources and executes their scanners.
func (s *StrategySource) FetchAll(ctx context.Context) ([]domain.FeedItem, []domain.SourceFailure) {
	var items []domain.FeedItem
	var failures []domain.SourceFailure

	for _, source := range s.sources {
		if !source.Enabled {
			continue
		}
		sourceItems, err := s.fetchSource(ctx, source)
		if err != nil {
			s.warn("source failed", "source", source.ID, "error", err)
			failures = append(failures, domain.SourceFailure{
				SourceID:  source.ID,
				SourceURL: source.URL,
				Err:       err.Error(),
			})
			continue
		}
		s.debug("source produced items", "source", source.ID, "count", len(sourceItems))
		items = append(items, sourceItems...)
	}

	s.debug("fetch done", "total_items", len(items), "failures", len(failures))
	return items, failures
}

func (s *StrategySource) fetchSource(ctx context.Context, source config.Source) ([]domain.FeedItem, error) {
	strategy, err := s.registry.Resolve(source.Scanner)
	if err != nil {
		return nil, err
	}

	attempts := source.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		scanCtx, cancel := context.WithTimeout(ctx, time.Duration(source.TimeoutSec)*time.Second)
		items, scanErr := strategy.Scan(scanCtx, source)
		cancel()
		if scanErr == nil {
			return s.enrich(source, items), nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, attempts, scanErr)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// enrich stamps source identity onto scanned items and derives the
// deadline from title and summary.
func (s *StrategySource) enrich(source config.Source, items []domain.FeedItem) []domain.FeedItem {
	for i := range items {
		items[i].SourceID = source.ID
		items[i].Organization = source.Organization
		items[i].DeadlineAt = normalize.Deadline(items[i].Title + " " + items[i].Summary)
	}
	return items
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func trimmed(v string) string {
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
