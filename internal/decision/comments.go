// Package decision folds comment-derived approval commands into per-context
// approval state and produces the per-diff verdicts, the MR-wide priority
// and the admission gate for restrictive change-types.
package decision

import (
	"sort"
	"strings"

	"github.com/changegate/pkg/models"
)

// ParseComments extracts approval commands from the comment stream. Comments
// are replayed in creation order with the original order breaking timestamp
// ties, so folding them is deterministic. Every recognized command line in a
// comment body yields one decision.
func ParseComments(comments []models.Comment) []models.Decision {
	ordered := append([]models.Comment(nil), comments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var decisions []models.Decision
	for _, comment := range ordered {
		for _, line := range strings.Split(comment.Body, "\n") {
			if cmd, ok := parseCommandLine(line); ok {
				decisions = append(decisions, models.Decision{
					Approver: comment.Username,
					Command:  cmd,
				})
			}
		}
	}
	return decisions
}

func parseCommandLine(line string) (models.Command, bool) {
	switch models.Command(strings.TrimSpace(line)) {
	case models.CommandApprove:
		return models.CommandApprove, true
	case models.CommandCancelApprove:
		return models.CommandCancelApprove, true
	case models.CommandHold:
		return models.CommandHold, true
	case models.CommandCancelHold:
		return models.CommandCancelHold, true
	case models.CommandGoodToTest:
		return models.CommandGoodToTest, true
	}
	return "", false
}

// GoodToTestRequests returns, in replay order, the usernames that issued a
// good-to-test command.
func GoodToTestRequests(decisions []models.Decision) []string {
	var users []string
	for _, d := range decisions {
		if d.Command == models.CommandGoodToTest {
			users = append(users, d.Approver)
		}
	}
	return users
}
