package domain

import "time"

// FeedItem is a core entity describing one procurement notice pulled from a source.
type FeedItem struct {
	SourceID     string
	Organization string
	Title        string
	Summary      string
	URL          string
	URLKey       string
	PublishedAt  time.Time
	FetchedAt    time.Time
	DeadlineAt   string
}

// Candidate is an item accepted for a keyword set, pending ranking and delivery filtering.
type Candidate struct {
	Item    FeedItem
	SetID   string
	SetName string
	Score   int
}

// StoredCandidate pairs a candidate with its ledger item identity.
type StoredCandidate struct {
	ItemID    int64
	Candidate Candidate
}

// SourceFailure records one source that could not be fetched this run.
type SourceFailure struct {
	SourceID  string
	SourceURL string
	Err       string
}

// SetFailure records one keyword set whose processing was abandoned this run.
type SetFailure struct {
	SetID string
	Err   string
}

// RunSummary aggregates the outcome of a single pipeline execution.
type RunSummary struct {
	RunID          string
	FetchedCount   int
	SelectedBySet  map[string][]StoredCandidate
	SourceFailures []SourceFailure
	SetFailures    []SetFailure
	DigestSent     bool
}

// FailedSet reports whether the given keyword set was abandoned this run.
func (r RunSummary) FailedSet(setID string) bool {
	for _, f := range r.SetFailures {
		if f.SetID == setID {
			return true
		}
	}
	return false
}

// AllSetsFailed reports whether every enabled keyword set failed; the
// process exits non-zero only in that case or on a pre-run config error.
func (r RunSummary) AllSetsFailed(enabledSetIDs []string) bool {
	if len(enabledSetIDs) == 0 {
		return false
	}
	for _, id := range enabledSetIDs {
		if !r.FailedSet(id) {
			return false
		}
	}
	return true
}
