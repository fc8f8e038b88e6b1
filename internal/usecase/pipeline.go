package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"BidMailer/internal/aggregate"
	"BidMailer/internal/classify"
	"BidMailer/internal/config"
	"BidMailer/internal/domain"
	"BidMailer/internal/infrastructure/mailer"
	"BidMailer/internal/normalize"
	"BidMailer/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source ports.ItemSource
	Ledger ports.DeliveryLedger
	Mailer ports.DigestMailer
	Logger *slog.Logger
	Now    func() time.Time
}

// Pipeline implements one classification-and-delivery run: fetch, score
// against every enabled keyword set, rank, filter already-delivered
// items, mail one consolidated digest, and record confirmed deliveries.
type Pipeline struct {
	source ports.ItemSource
	ledger ports.DeliveryLedger
	mailer ports.DigestMailer
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		source: deps.Source,
		ledger: deps.Ledger,
		mailer: deps.Mailer,
		logger: deps.Logger,
		now:    now,
	}
}

// Run executes a single batch run. Per-source and per-set failures land in
// the returned summary instead of aborting the run; the error return is
// reserved for conditions that prevented the run from being attempted.
func (p *Pipeline) Run(ctx context.Context, cfg config.Config, dryRun bool) (domain.RunSummary, error) {
	if p.source == nil || p.ledger == nil {
		return domain.RunSummary{}, errors.New("pipeline is missing its source or ledger")
	}

	runID := newRunID(p.now())
	summary := domain.RunSummary{
		RunID:         runID,
		SelectedBySet: map[string][]domain.StoredCandidate{},
	}

	items, sourceFailures := p.source.FetchAll(ctx)
	summary.FetchedCount = len(items)
	summary.SourceFailures = sourceFailures

	items = p.assignIdentities(items)
	texts := matchTexts(items)

	enabledSets := cfg.EnabledKeywordSets()
	for _, set := range enabledSets {
		selected, err := p.processSet(ctx, set, items, texts)
		if err != nil {
			p.warn("keyword set failed", "set", set.ID, "error", err)
			summary.SetFailures = append(summary.SetFailures, domain.SetFailure{SetID: set.ID, Err: err.Error()})
			continue
		}
		summary.SelectedBySet[set.ID] = selected
	}

	if dryRun {
		p.prune(ctx, cfg.Retention.Days)
		p.info("dry run complete", "run_id", runID, "fetched", summary.FetchedCount)
		return summary, nil
	}

	if p.mailer == nil {
		return summary, errors.New("mailer is required unless running dry")
	}

	nowJST := p.now().In(mailer.JST)
	subject := mailer.BuildDigestSubject(nowJST)
	body := mailer.BuildDigestBody(nowJST, digestSets(enabledSets, summary), summary.SelectedBySet, sourceFailures, cfg.Digest.UnsubscribeContact)

	if err := p.mailer.Send(ctx, cfg.Mail.AdminEmail, subject, body); err != nil {
		// Nothing was recorded, so every item stays eligible next run.
		p.warn("digest send failed", "run_id", runID, "error", err)
		for _, set := range enabledSets {
			if !summary.FailedSet(set.ID) {
				summary.SetFailures = append(summary.SetFailures, domain.SetFailure{
					SetID: set.ID,
					Err:   fmt.Sprintf("digest send failed: %v", err),
				})
			}
		}
		p.prune(ctx, cfg.Retention.Days)
		return summary, nil
	}
	summary.DigestSent = true

	deliveredAt := p.now().UTC()
	for _, set := range enabledSets {
		if summary.FailedSet(set.ID) {
			continue
		}
		records := summary.SelectedBySet[set.ID]
		if err := p.ledger.CommitDeliveries(ctx, runID, set.ID, records, deliveredAt); err != nil {
			commitErr := &domain.DeliveryCommitError{SetID: set.ID, Err: err}
			p.warn("delivery commit failed", "set", set.ID, "error", commitErr)
			summary.SetFailures = append(summary.SetFailures, domain.SetFailure{SetID: set.ID, Err: commitErr.Error()})
		}
	}

	p.prune(ctx, cfg.Retention.Days)
	p.info("run complete",
		"run_id", runID,
		"fetched", summary.FetchedCount,
		"source_failures", len(summary.SourceFailures),
		"set_failures", len(summary.SetFailures))
	return summary, nil
}

// assignIdentities derives url_key for every item; items whose link cannot
// be canonicalized are skipped with a warning, never fatally.
func (p *Pipeline) assignIdentities(items []domain.FeedItem) []domain.FeedItem {
	kept := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		key, err := normalize.URLKey(item.URL)
		if err != nil {
			p.warn("skipping item with bad link", "url", item.URL, "error", err)
			continue
		}
		item.URLKey = key
		kept = append(kept, item)
	}
	return kept
}

// processSet classifies, ranks, records, and delivery-filters the run's
// items for one keyword set. Any ledger failure abandons the set.
func (p *Pipeline) processSet(ctx context.Context, set config.KeywordSet, items []domain.FeedItem, texts []string) ([]domain.StoredCandidate, error) {
	var candidates []domain.Candidate
	for i, item := range items {
		result := classify.Classify(texts[i], set)
		if !result.Accepted {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Item:    item,
			SetID:   set.ID,
			SetName: set.Name,
			Score:   result.Score,
		})
	}

	ranked := aggregate.Rank(candidates, set.TopN)

	stored := make([]domain.StoredCandidate, 0, len(ranked))
	ids := make([]int64, 0, len(ranked))
	for _, candidate := range ranked {
		id, err := p.ledger.RecordItemIfNew(ctx, candidate.Item)
		if err != nil {
			return nil, err
		}
		stored = append(stored, domain.StoredCandidate{ItemID: id, Candidate: candidate})
		ids = append(ids, id)
	}

	undelivered, err := p.ledger.FilterUndelivered(ctx, set.ID, ids)
	if err != nil {
		return nil, err
	}

	keep := make(map[int64]bool, len(undelivered))
	for _, id := range undelivered {
		keep[id] = true
	}
	selected := make([]domain.StoredCandidate, 0, len(undelivered))
	for _, record := range stored {
		if keep[record.ItemID] {
			selected = append(selected, record)
		}
	}
	return selected, nil
}

func (p *Pipeline) prune(ctx context.Context, retentionDays int) {
	if err := p.ledger.Prune(ctx, retentionDays, p.now()); err != nil {
		p.warn("prune failed", "error", err)
	}
}

// digestSets drops sets abandoned mid-run so the digest never shows a
// misleading empty section for them.
func digestSets(sets []config.KeywordSet, summary domain.RunSummary) []config.KeywordSet {
	kept := make([]config.KeywordSet, 0, len(sets))
	for _, set := range sets {
		if !summary.FailedSet(set.ID) {
			kept = append(kept, set)
		}
	}
	return kept
}

func matchTexts(items []domain.FeedItem) []string {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = classify.MatchText(item.Title, item.Summary)
	}
	return texts
}

func newRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
