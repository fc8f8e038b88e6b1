package usecase

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"BidMailer/internal/config"
	"BidMailer/internal/domain"
	"BidMailer/internal/infrastructure/storage"
	"BidMailer/internal/ports"
)

type fakeSource struct {
	items    []domain.FeedItem
	failures []domain.SourceFailure
}

func (f *fakeSource) FetchAll(context.Context) ([]domain.FeedItem, []domain.SourceFailure) {
	return f.items, f.failures
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) Send(_ context.Context, _, _, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, body)
	return nil
}

// faultyLedger fails reads for one keyword set to exercise per-set isolation.
type faultyLedger struct {
	ports.DeliveryLedger
	failSetID string
}

func (f *faultyLedger) FilterUndelivered(ctx context.Context, setID string, ids []int64) ([]int64, error) {
	if setID == f.failSetID {
		return nil, &domain.LedgerError{Op: "filter undelivered", Err: errors.New("disk on fire")}
	}
	return f.DeliveryLedger.FilterUndelivered(ctx, setID, ids)
}

// commitFailLedger fails delivery commits for one keyword set.
type commitFailLedger struct {
	ports.DeliveryLedger
	failSetID string
}

func (f *commitFailLedger) CommitDeliveries(ctx context.Context, runID, setID string, records []domain.StoredCandidate, at time.Time) error {
	if setID == f.failSetID {
		return &domain.LedgerError{Op: "commit deliveries", Err: errors.New("disk full")}
	}
	return f.DeliveryLedger.CommitDeliveries(ctx, runID, setID, records, at)
}

func newTestLedger(t *testing.T) *storage.SQLiteLedger {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ledger := storage.NewSQLiteLedger(db)
	if err := ledger.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return ledger
}

func testConfig(sets ...config.KeywordSet) config.Config {
	return config.Config{
		Mail:        config.MailConfig{AdminEmail: "admin@ex.org"},
		Retention:   config.RetentionConfig{Days: 30},
		KeywordSets: sets,
	}
}

func cloudSet() config.KeywordSet {
	return config.KeywordSet{
		ID:                 "cloud",
		Name:               "Cloud",
		Enabled:            true,
		MinRequiredMatches: 1,
		Required:           []string{"cloud"},
		Boost:              []string{"aws"},
		Exclude:            []string{"cancelled"},
		TopN:               10,
	}
}

func feedItems(fetchedAt time.Time) []domain.FeedItem {
	return []domain.FeedItem{
		{
			SourceID:     "src-1",
			Organization: "Ministry of Testing",
			Title:        "Cloud platform build RFP",
			Summary:      "includes AWS migration",
			URL:          "https://ex.org/notices/1",
			PublishedAt:  fetchedAt.Add(-2 * time.Hour),
			FetchedAt:    fetchedAt,
		},
		{
			SourceID:     "src-1",
			Organization: "Ministry of Testing",
			Title:        "Cloud operations support",
			URL:          "https://ex.org/notices/2",
			PublishedAt:  fetchedAt.Add(-time.Hour),
			FetchedAt:    fetchedAt,
		},
	}
}

func TestRunDeliversEachItemExactlyOnce(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}
	mail := &fakeMailer{}

	pipeline := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	cfg := testConfig(cloudSet())

	first, err := pipeline.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.DigestSent {
		t.Fatalf("first run did not send the digest")
	}
	if got := len(first.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("first run selected %d items, want 2", got)
	}

	second, err := pipeline.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := len(second.SelectedBySet["cloud"]); got != 0 {
		t.Fatalf("second run re-selected %d already-delivered items", got)
	}
	if len(first.SetFailures) != 0 || len(second.SetFailures) != 0 {
		t.Fatalf("unexpected set failures: %v %v", first.SetFailures, second.SetFailures)
	}
}

func TestRunSendFailureLeavesItemsEligible(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}

	cfg := testConfig(cloudSet())

	broken := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: &fakeMailer{err: errors.New("relay down")}})
	summary, err := broken.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.DigestSent {
		t.Fatalf("digest reported sent despite relay failure")
	}
	if !summary.FailedSet("cloud") {
		t.Fatalf("send failure must mark the set failed")
	}

	// Next run with a healthy relay delivers everything.
	mail := &fakeMailer{}
	healthy := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	retry, err := healthy.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if got := len(retry.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("retry selected %d items, want 2", got)
	}
}

func TestRunIsolatesKeywordSetFailures(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}
	mail := &fakeMailer{}

	badSet := cloudSet()
	badSet.ID = "bad"
	badSet.Name = "Bad"

	pipeline := NewPipeline(PipelineDeps{
		Source: source,
		Ledger: &faultyLedger{DeliveryLedger: ledger, failSetID: "bad"},
		Mailer: mail,
	})
	cfg := testConfig(cloudSet(), badSet)

	summary, err := pipeline.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.FailedSet("bad") {
		t.Fatalf("faulty set not reported failed")
	}
	if summary.FailedSet("cloud") {
		t.Fatalf("healthy set dragged down by faulty one")
	}
	if got := len(summary.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("healthy set selected %d items, want 2", got)
	}
	if !summary.DigestSent {
		t.Fatalf("digest should still go out for surviving sets")
	}
}

func TestRunCommitFailureIsolatesSet(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}
	mail := &fakeMailer{}

	flakySet := cloudSet()
	flakySet.ID = "flaky"
	flakySet.Name = "Flaky"
	cfg := testConfig(cloudSet(), flakySet)

	pipeline := NewPipeline(PipelineDeps{
		Source: source,
		Ledger: &commitFailLedger{DeliveryLedger: ledger, failSetID: "flaky"},
		Mailer: mail,
	})
	summary, err := pipeline.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.DigestSent {
		t.Fatalf("digest was sent before the commit, summary must say so")
	}
	if !summary.FailedSet("flaky") {
		t.Fatalf("unrecorded commit must mark the set failed, got %v", summary.SetFailures)
	}
	if summary.FailedSet("cloud") {
		t.Fatalf("commit failure leaked into the healthy set: %v", summary.SetFailures)
	}

	// Next run over the intact ledger: the committed set stays quiet, the
	// failed set's items are still eligible.
	healthy := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	retry, err := healthy.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if got := len(retry.SelectedBySet["cloud"]); got != 0 {
		t.Fatalf("committed set re-selected %d items", got)
	}
	if got := len(retry.SelectedBySet["flaky"]); got != 2 {
		t.Fatalf("uncommitted set should re-select 2 items, got %d", got)
	}
}

func TestRunSkipsUnparseableLinks(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	items := feedItems(fetchedAt)
	items = append(items, domain.FeedItem{
		SourceID:     "src-1",
		Organization: "Ministry of Testing",
		Title:        "Cloud notice behind a broken link",
		URL:          "mailto:bids@ex.org",
		FetchedAt:    fetchedAt,
	})
	source := &fakeSource{items: items}
	mail := &fakeMailer{}

	pipeline := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	summary, err := pipeline.Run(context.Background(), testConfig(cloudSet()), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(summary.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("expected the malformed item skipped, got %d selections", got)
	}
}

func TestRunDryRunCommitsNoDeliveries(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}

	pipeline := NewPipeline(PipelineDeps{Source: source, Ledger: ledger})
	cfg := testConfig(cloudSet())

	summary, err := pipeline.Run(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if summary.DigestSent {
		t.Fatalf("dry run must not send")
	}
	if got := len(summary.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("dry run selected %d items, want 2", got)
	}

	// A real run afterwards still delivers: nothing was committed.
	mail := &fakeMailer{}
	real := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	after, err := real.Run(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("run after dry run: %v", err)
	}
	if got := len(after.SelectedBySet["cloud"]); got != 2 {
		t.Fatalf("post-dry-run selected %d items, want 2", got)
	}
}

func TestRunExcludedSetNeverEvaluated(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(t)
	fetchedAt := time.Date(2026, time.August, 29, 6, 0, 0, 0, time.UTC)
	source := &fakeSource{items: feedItems(fetchedAt)}
	mail := &fakeMailer{}

	disabled := cloudSet()
	disabled.ID = "disabled"
	disabled.Enabled = false

	pipeline := NewPipeline(PipelineDeps{Source: source, Ledger: ledger, Mailer: mail})
	summary, err := pipeline.Run(context.Background(), testConfig(cloudSet(), disabled), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, present := summary.SelectedBySet["disabled"]; present {
		t.Fatalf("disabled set must not appear in selections")
	}
	if len(mail.sent) != 1 || strings.Contains(mail.sent[0], "disabled") {
		t.Fatalf("disabled set leaked into the digest")
	}
}
