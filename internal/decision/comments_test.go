package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/changegate/pkg/models"
)

func at(minute int) time.Time {
	return time.Date(2026, 8, 1, 12, minute, 0, 0, time.UTC)
}

func TestParseComments_OrderedByCreation(t *testing.T) {
	comments := []models.Comment{
		{Username: "bob", Body: "/lgtm cancel", CreatedAt: at(2)},
		{Username: "alice", Body: "/lgtm", CreatedAt: at(1)},
	}
	decisions := ParseComments(comments)
	require.Equal(t, []models.Decision{
		{Approver: "alice", Command: models.CommandApprove},
		{Approver: "bob", Command: models.CommandCancelApprove},
	}, decisions)
}

func TestParseComments_MultipleCommandsPerBody(t *testing.T) {
	comments := []models.Comment{
		{Username: "alice", Body: "looks good\n/lgtm\n  /hold  \nthanks", CreatedAt: at(1)},
	}
	decisions := ParseComments(comments)
	require.Equal(t, []models.Decision{
		{Approver: "alice", Command: models.CommandApprove},
		{Approver: "alice", Command: models.CommandHold},
	}, decisions)
}

func TestParseComments_IgnoresNonCommandsAndInlineText(t *testing.T) {
	comments := []models.Comment{
		{Username: "alice", Body: "I would /lgtm this", CreatedAt: at(1)},
		{Username: "bob", Body: "/shipit", CreatedAt: at(2)},
		{Username: "carol", Body: "", CreatedAt: at(3)},
	}
	require.Empty(t, ParseComments(comments))
}

func TestParseComments_TimestampTiesKeepOriginalOrder(t *testing.T) {
	comments := []models.Comment{
		{Username: "alice", Body: "/lgtm", CreatedAt: at(1)},
		{Username: "bob", Body: "/hold", CreatedAt: at(1)},
	}
	decisions := ParseComments(comments)
	require.Equal(t, "alice", decisions[0].Approver)
	require.Equal(t, "bob", decisions[1].Approver)
}

func TestGoodToTestRequests(t *testing.T) {
	decisions := ParseComments([]models.Comment{
		{Username: "alice", Body: "/good-to-test", CreatedAt: at(1)},
		{Username: "bob", Body: "/lgtm", CreatedAt: at(2)},
		{Username: "carol", Body: "/good-to-test", CreatedAt: at(3)},
	})
	require.Equal(t, []string{"alice", "carol"}, GoodToTestRequests(decisions))
}
