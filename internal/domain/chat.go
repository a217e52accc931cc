package domain

import (
	"errors"
	"strings"
)

// ChatMode selects between planning and acting.
type ChatMode string

const (
	// ChatModePlan only runs read-only tools.
	ChatModePlan ChatMode = "plan"
	// ChatModeAgent runs any tool the permission policy allows.
	ChatModeAgent ChatMode = "agent"
)

// ProviderID names an upstream LLM API.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderZai       ProviderID = "zai"
)

// ChatRequest starts one user turn.
type ChatRequest struct {
	ChatID   string     `json:"chatId"`
	Prompt   string     `json:"prompt"`
	Mode     ChatMode   `json:"mode"`
	Provider ProviderID `json:"provider"`
	APIKey   string     `json:"apiKey"`
	Model    string     `json:"model,omitempty"`
	Messages []Message  `json:"messages,omitempty"`
	// Flex selects the extended request timeout.
	Flex bool `json:"flex,omitempty"`
}

var (
	ErrEmptyPrompt   = errors.New("prompt is required")
	ErrMissingChatID = errors.New("chatId is required")
	ErrMissingAPIKey = errors.New("apiKey is required")
	ErrInvalidMode   = errors.New("mode must be plan or agent")
)

// Validate checks the request and fills defaults.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.ChatID) == "" {
		return ErrMissingChatID
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.APIKey == "" {
		return ErrMissingAPIKey
	}
	switch r.Mode {
	case "":
		r.Mode = ChatModeAgent
	case ChatModePlan, ChatModeAgent:
	default:
		return ErrInvalidMode
	}
	return nil
}
