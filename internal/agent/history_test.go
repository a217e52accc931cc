package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/sagi/internal/domain"
)

func TestRepairHistory(t *testing.T) {
	call := func(id string) domain.ToolCall { return domain.ToolCall{ID: id, Name: "echo"} }

	msgs := []domain.Message{
		{Role: domain.RoleTool, ToolCallID: "orphan", Content: "stale"},
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{call("a"), call("b")}},
		{Role: domain.RoleTool, ToolCallID: "a", Content: "done"},
		{Role: domain.RoleAssistant, Content: "ok"},
		{Role: domain.RoleUser, Content: "second"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{call("c")}},
	}

	got := repairHistory(msgs)

	require.Len(t, got, 5)
	assert.Equal(t, "first", got[0].Content)
	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "a", got[1].ToolCalls[0].ID)
	assert.Equal(t, "a", got[2].ToolCallID)
	assert.Equal(t, "ok", got[3].Content)
	assert.Equal(t, "second", got[4].Content)
}

func TestRepairHistoryKeepsTextOfUnansweredCall(t *testing.T) {
	got := repairHistory([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "let me check", ToolCalls: []domain.ToolCall{{ID: "x", Name: "echo"}}},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "let me check", got[1].Content)
	assert.Empty(t, got[1].ToolCalls)
}
