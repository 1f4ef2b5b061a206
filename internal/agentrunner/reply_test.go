package agentrunner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReplyPlainJSON(t *testing.T) {
	reply, err := parseReply(`{"action":"create","breadcrumb":{"title":"hi"}}`)
	require.NoError(t, err)
	require.Equal(t, "create", reply.Action)
	require.Equal(t, "hi", reply.Breadcrumb.Title)
}

func TestParseReplyStripsJSONFence(t *testing.T) {
	raw := "```json\n{\"action\":\"update\",\"breadcrumb_id\":\"b1\"}\n```"
	reply, err := parseReply(raw)
	require.NoError(t, err)
	require.Equal(t, "update", reply.Action)
	require.Equal(t, "b1", reply.BreadcrumbID)
}

func TestParseReplyNarrowsSurroundingProse(t *testing.T) {
	raw := "Sure, here is my answer:\n{\"action\":\"none\"}\nLet me know if you need more."
	reply, err := parseReply(raw)
	require.NoError(t, err)
	require.Equal(t, "none", reply.Action)
}

func TestParseReplyRejectsMissingAction(t *testing.T) {
	_, err := parseReply(`{"breadcrumb_id":"b1"}`)
	require.Error(t, err)
}

func TestParseReplyRejectsGarbage(t *testing.T) {
	_, err := parseReply("not json at all")
	require.Error(t, err)
}
