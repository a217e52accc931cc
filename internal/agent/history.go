package agent

import "github.com/joss/sagi/internal/domain"

// repairHistory makes a stored transcript acceptable to providers. Tool
// calls without a following result are removed from their assistant
// message, and tool results that answer no preceding call are dropped.
// Transcripts saved by a crashed or killed process can hold either.
func repairHistory(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		switch {
		case m.Role == domain.RoleTool:
			// Results are consumed together with their assistant message.
			continue
		case m.Role != domain.RoleAssistant || len(m.ToolCalls) == 0:
			out = append(out, m)
			continue
		}

		results := map[string]domain.Message{}
		j := i + 1
		for ; j < len(msgs) && msgs[j].Role == domain.RoleTool; j++ {
			results[msgs[j].ToolCallID] = msgs[j]
		}

		var calls []domain.ToolCall
		var answers []domain.Message
		for _, call := range m.ToolCalls {
			if r, ok := results[call.ID]; ok {
				calls = append(calls, call)
				answers = append(answers, r)
			}
		}
		m.ToolCalls = calls
		if m.Content != "" || len(calls) > 0 {
			out = append(out, m)
			out = append(out, answers...)
		}
		i = j - 1
	}
	return out
}
