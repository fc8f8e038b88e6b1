package mailer

import (
	"fmt"
	"strings"
	"time"

	"BidMailer/internal/config"
	"BidMailer/internal/domain"
)

// JST is the digest presentation timezone; readers are procurement staff
// working Japanese business hours.
var JST = time.FixedZone("JST", 9*60*60)

// BuildDigestSubject stamps the digest with the JST run date.
func BuildDigestSubject(nowJST time.Time) string {
	return fmt.Sprintf("[bidmailer] %s JST 入札/公募サマリ", nowJST.Format("2006-01-02"))
}

// BuildDigestBody renders one consolidated digest: a section per keyword
// set in config order, the fetch-failure list, and a disclaimer footer.
// Output is deterministic for identical inputs.
func BuildDigestBody(
	nowJST time.Time,
	keywordSets []config.KeywordSet,
	selectedBySet map[string][]domain.StoredCandidate,
	failures []domain.SourceFailure,
	unsubscribeContact string,
) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("実行時刻(JST): %s", nowJST.Format("2006-01-02 15:04:05")), "")

	for _, set := range keywordSets {
		if !set.Enabled {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]", set.Name))
		records := selectedBySet[set.ID]
		if len(records) == 0 {
			lines = append(lines, "- 0件")
		} else {
			for _, record := range records {
				lines = append(lines, formatItemLine(record))
			}
		}
		lines = append(lines, "")
	}

	if len(failures) > 0 {
		lines = append(lines, "取得失敗ソース:")
		for _, failure := range failures {
			lines = append(lines, fmt.Sprintf("- %s (%s): %s", failure.SourceID, failure.SourceURL, failure.Err))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"免責:",
		"- 本メールは公式情報へのリンク参照を補助するものです。",
		"- 応募可否・要件・締切は必ず公式ページで最終確認してください。",
	)
	if unsubscribeContact != "" {
		lines = append(lines, fmt.Sprintf("- 配信停止: %s へ連絡してください。", unsubscribeContact))
	}
	lines = append(lines, "")

	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

func formatItemLine(record domain.StoredCandidate) string {
	item := record.Candidate.Item
	datePart := "-"
	if !item.PublishedAt.IsZero() {
		datePart = item.PublishedAt.In(JST).Format("2006-01-02")
	}
	deadlinePart := ""
	if item.DeadlineAt != "" {
		deadlinePart = fmt.Sprintf(", deadline=%s", item.DeadlineAt)
	}
	return fmt.Sprintf("- %d | %s | %s | %s%s | %s",
		record.Candidate.Score, item.Title, item.Organization, datePart, deadlinePart, item.URL)
}

// BuildFailureSubject stamps the admin failure notification.
func BuildFailureSubject(nowJST time.Time) string {
	return fmt.Sprintf("[bidmailer][ERROR] %s JST", nowJST.Format("2006-01-02 15:04"))
}

// BuildFailureBody renders the admin failure notification.
func BuildFailureBody(nowJST time.Time, contextMessage string) string {
	return fmt.Sprintf("実行時刻(JST): %s\n障害内容:\n%s\n",
		nowJST.Format("2006-01-02 15:04:05"), contextMessage)
}
