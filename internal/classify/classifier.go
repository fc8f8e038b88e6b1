// Package classify evaluates one item's text against one keyword set.
package classify

import (
	"strings"

	"BidMailer/internal/config"
	"BidMailer/internal/normalize"
)

// Result captures the outcome of evaluating one item against one keyword
// set. It is recomputed every run and never persisted.
type Result struct {
	MatchedRequired int
	MatchedBoost    int
	Excluded        bool
	Accepted        bool
	Score           int
}

// MatchText builds the normalized matching text for an item: title and
// summary concatenated, NFKC-folded, lower-cased, whitespace-collapsed.
func MatchText(title, summary string) string {
	return normalize.Text(strings.TrimSpace(title + " " + summary))
}

// Classify applies the keyword-set rules to already-normalized text.
// Exclusion takes precedence over acceptance; an exclude_exceptions match
// neutralizes the exclusion entirely. Callers skip disabled sets.
func Classify(normalizedText string, set config.KeywordSet) Result {
	var result Result

	if countDistinct(normalizedText, set.Exclude) > 0 {
		result.Excluded = countDistinct(normalizedText, set.ExcludeExceptions) == 0
	}

	result.MatchedRequired = countDistinct(normalizedText, set.Required)
	result.MatchedBoost = countDistinct(normalizedText, set.Boost)
	result.Score = result.MatchedBoost
	result.Accepted = !result.Excluded && result.MatchedRequired >= set.MinRequiredMatches
	return result
}

// countDistinct counts configured keywords present in the text; a keyword
// listed twice or matched twice still counts once.
func countDistinct(normalizedText string, terms []string) int {
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		folded := normalize.Text(term)
		if _, dup := seen[folded]; dup {
			continue
		}
		if strings.Contains(normalizedText, folded) {
			seen[folded] = struct{}{}
		}
	}
	return len(seen)
}
