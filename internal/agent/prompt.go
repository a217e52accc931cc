package agent

import (
	"strings"

	"github.com/joss/sagi/internal/domain"
)

// PromptBuilder constructs system prompts for a chat mode
type PromptBuilder struct {
	customPrompt string
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// SetCustomPrompt sets additional custom instructions
func (p *PromptBuilder) SetCustomPrompt(prompt string) {
	p.customPrompt = prompt
}

const basePrompt = `You are S-AGI, an assistant that works with spreadsheets, documents and the user's shell.

Guidelines:
- Be concise and direct
- Use tools to accomplish tasks
- Read an artifact before changing it
- Shell commands may need the user's approval; explain what a command does before running it
`

const planPrompt = `
You are in plan mode. Only read-only tools are available. Describe the steps you would take and ask the user to switch to agent mode to carry them out.
`

const agentPrompt = `
You are in agent mode. Carry out the task with the available tools. If a tool call is denied, do not retry it; explain what you needed it for.
`

// Build constructs the full system prompt for a chat mode
func (p *PromptBuilder) Build(mode domain.ChatMode) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if mode == domain.ChatModePlan {
		b.WriteString(planPrompt)
	} else {
		b.WriteString(agentPrompt)
	}
	if p.customPrompt != "" {
		b.WriteString("\n" + p.customPrompt + "\n")
	}
	return b.String()
}
