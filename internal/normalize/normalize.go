// Package normalize canonicalizes item text and links so that matching and
// deduplication behave identically across runs.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"BidMailer/internal/domain"
)

// TrackingQueryKeys is the explicit deny list of query parameters stripped
// during URL canonicalization. Keys are compared case-insensitively.
var TrackingQueryKeys = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
}

var spacePattern = regexp.MustCompile(`\s+`)

// deadlinePattern matches YYYY-MM-DD style dates with -, /, . or the
// Japanese 年/月/日 markers as separators. The leading group rejects a
// digit immediately before the year.
var deadlinePattern = regexp.MustCompile(
	`(?:^|[^\d])(\d{4})[./\-年]\s*(1[0-2]|0?[1-9])[./\-月]\s*(3[01]|[12]\d|0?[1-9])日?`)

// Text folds a string to NFKC, lower-cases it, and collapses whitespace
// runs to single spaces. ASCII keywords match case-insensitively against
// the result; non-ASCII text matches exactly after the same fold.
func Text(value string) string {
	folded := strings.ToLower(norm.NFKC.String(value))
	return strings.TrimSpace(spacePattern.ReplaceAllString(folded, " "))
}

// ContainsTerm reports whether the already-normalized text contains the
// configured keyword. The keyword is folded with the same rules.
func ContainsTerm(normalizedText, term string) bool {
	return strings.Contains(normalizedText, Text(term))
}

// URL canonicalizes a raw link: lower-cased scheme and host, default ports
// dropped, fragment stripped, tracking parameters removed, remaining query
// pairs sorted, trailing slash collapsed. Applying URL to its own output
// returns the same string.
func URL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", &domain.NormalizationError{RawURL: raw, Reason: err.Error()}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &domain.NormalizationError{RawURL: raw, Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimSuffix(host, defaultPortSuffix(scheme))

	path := parsed.EscapedPath()
	path = strings.TrimSuffix(path, "/")

	query, err := canonicalQuery(parsed.RawQuery)
	if err != nil {
		return "", &domain.NormalizationError{RawURL: raw, Reason: err.Error()}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}
	return b.String(), nil
}

// URLKey derives the stable deduplication identity for a raw link: the
// hex SHA-256 of its canonical form.
func URLKey(raw string) (string, error) {
	canonical, err := URL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

func defaultPortSuffix(scheme string) string {
	if scheme == "http" {
		return ":80"
	}
	return ":443"
}

func canonicalQuery(rawQuery string) (string, error) {
	if rawQuery == "" {
		return "", nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}
	for key := range values {
		if _, tracked := TrackingQueryKeys[strings.ToLower(key)]; tracked {
			delete(values, key)
		}
	}
	for _, vals := range values {
		sort.Strings(vals)
	}
	// url.Values.Encode emits keys in sorted order.
	return values.Encode(), nil
}

// Deadline finds the first plausible application deadline in the text and
// returns it as YYYY-MM-DD, or "" when none is present.
func Deadline(text string) string {
	normalized := Text(text)
	for _, match := range deadlinePattern.FindAllStringSubmatch(normalized, -1) {
		year := atoi(match[1])
		month := atoi(match[2])
		day := atoi(match[3])
		parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if parsed.Year() != year || parsed.Month() != time.Month(month) || parsed.Day() != day {
			continue
		}
		return parsed.Format("2006-01-02")
	}
	return ""
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
