package ports

import (
	"context"
	"time"

	"BidMailer/internal/domain"
)

// ItemSource pulls the run's raw notices from every enabled source.
// Per-source fetch failures are returned alongside the items and never
// block the items of other sources.
type ItemSource interface {
	FetchAll(ctx context.Context) ([]domain.FeedItem, []domain.SourceFailure)
}

// DeliveryLedger is the persistent record of known items and past
// deliveries. It enforces at-most-one delivery per (keyword set, item)
// and ages out old history.
type DeliveryLedger interface {
	// RecordItemIfNew inserts the item when its url_key is unseen and
	// returns the stored identity; an existing row is never touched.
	RecordItemIfNew(ctx context.Context, item domain.FeedItem) (int64, error)

	// FilterUndelivered removes ids that already have a delivery row for
	// the keyword set, preserving relative order.
	FilterUndelivered(ctx context.Context, setID string, itemIDs []int64) ([]int64, error)

	// CommitDeliveries records one delivery row per candidate in a single
	// transaction. Called only after the mailer confirmed the send.
	CommitDeliveries(ctx context.Context, runID, setID string, records []domain.StoredCandidate, at time.Time) error

	// Prune deletes deliveries older than the retention window, then
	// items outside the window with no remaining delivery reference.
	Prune(ctx context.Context, retentionDays int, now time.Time) error
}

// DigestMailer hands the consolidated digest to the outbound relay. A nil
// return means the relay accepted the message for sending.
type DigestMailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
