package iteration

import (
	"fmt"
	"strings"

	"personaut/internal/errs"
	"personaut/internal/jsonrepair"
)

// parseFeedback extracts the fenced ratings JSON from a "User Feedback"
// reply. The block is parsed leniently; a missing averageRating is
// recomputed from the individual ratings.
func parseFeedback(reply string) (*FeedbackReport, error) {
	var report FeedbackReport
	if _, err := jsonrepair.ParseInto(reply, &report); err != nil {
		return nil, errs.Wrap(errs.KindParse, "parse-feedback", err)
	}
	if len(report.Ratings) == 0 {
		return nil, errs.New(errs.KindParse, "parse-feedback", "reply contains no ratings")
	}

	if report.AverageRating == 0 {
		var sum float64
		for _, r := range report.Ratings {
			sum += r.Rating
		}
		report.AverageRating = sum / float64(len(report.Ratings))
	}

	report.Consolidated = consolidate(&report)
	return &report, nil
}

// consolidate synthesizes the human-readable summary from the structured
// fields, for display and for the next round's UX prompt.
func consolidate(report *FeedbackReport) string {
	var parts []string
	if len(report.TopIssues) > 0 {
		parts = append(parts, "Top issues: "+strings.Join(report.TopIssues, "; "))
	}
	if len(report.QuickWins) > 0 {
		parts = append(parts, "Quick wins: "+strings.Join(report.QuickWins, "; "))
	}
	if report.Recommendation != "" {
		parts = append(parts, "Recommendation: "+report.Recommendation)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Personas rated this screen %.1f/10 on average.", report.AverageRating)
	}
	return strings.Join(parts, "\n")
}
