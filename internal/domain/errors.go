package domain

import "fmt"

// NormalizationError marks an item whose link could not be canonicalized.
// The item is skipped with a warning; the run continues.
type NormalizationError struct {
	RawURL string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %q: %s", e.RawURL, e.Reason)
}

// LedgerError marks a storage failure while reading or writing the ledger.
// Processing of the affected keyword set is abandoned for this run.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// DeliveryCommitError marks a confirmed send that could not be recorded.
// The affected set is reported failed; the missing delivery rows make the
// same items eligible again on the next run.
type DeliveryCommitError struct {
	SetID string
	Err   error
}

func (e *DeliveryCommitError) Error() string {
	return fmt.Sprintf("commit deliveries for set %s: %v", e.SetID, e.Err)
}

func (e *DeliveryCommitError) Unwrap() error { return e.Err }
