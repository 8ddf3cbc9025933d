// detail_level.go holds the verbosity levels shared by read operations.
//
//   - summary: ids, categories and scores only
//   - standard: truncated content (default)
//   - full: untruncated content with rationale
package memory

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Detail level constants.
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// StandardSnippet is the content length shown at DetailStandard.
const StandardSnippet = 240

// DetailLevelValues returns the enum values for tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to
// "standard" for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// Shape returns a copy of rec trimmed to the requested detail level.
func Shape(rec Record, level string) Record {
	switch ParseDetailLevel(level) {
	case DetailSummary:
		rec.Content = Truncate(rec.Content, 60)
		rec.Rationale = ""
		rec.OutcomeNote = ""
	case DetailStandard:
		rec.Content = Truncate(rec.Content, StandardSnippet)
		rec.Rationale = Truncate(rec.Rationale, StandardSnippet)
	}
	return rec
}

// NavigationHint returns a one-line note when results are capped by a
// limit, or "" when everything fits.
func NavigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("Showing %s of %s. %s", humanize.Comma(int64(showing)), humanize.Comma(int64(total)), hint)
	}
	return fmt.Sprintf("Showing %s of %s.", humanize.Comma(int64(showing)), humanize.Comma(int64(total)))
}

// Age renders how long ago t was relative to ref ("3 days ago").
func Age(t, ref time.Time) string {
	return humanize.RelTime(t, ref, "ago", "from now")
}

// EstimateTokens approximates the token count of text with the chars/4
// heuristic. Non-empty text is at least one token.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if n/4 == 0 {
		return 1
	}
	return n / 4
}
