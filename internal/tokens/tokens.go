// Package tokens counts tokens with tiktoken-go and trims chat history to a
// context budget.
package tokens

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joss/sagi/internal/domain"
)

// Counter counts tokens with the cl100k_base encoding. When the encoding
// cannot be loaded it falls back to four characters per token.
type Counter struct {
	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

var defaultCounter = &Counter{}

// Count returns the number of tokens in the given text.
func Count(text string) int {
	return defaultCounter.Count(text)
}

// CountMessage returns tokens for a single message.
func CountMessage(msg domain.Message) int {
	return defaultCounter.CountMessage(msg)
}

// CountMessages returns total tokens for a slice of messages.
func CountMessages(msgs []domain.Message) int {
	return defaultCounter.CountMessages(msgs)
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns total tokens for a slice of messages.
func (c *Counter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, msg := range msgs {
		total += c.CountMessage(msg)
	}
	return total
}

// CountMessage returns tokens for a single message.
func (c *Counter) CountMessage(msg domain.Message) int {
	// role and framing
	tokens := 4 + c.Count(msg.Content)
	for _, call := range msg.ToolCalls {
		tokens += c.Count(call.Name) + 10
		if args, err := json.Marshal(call.Args); err == nil {
			tokens += c.Count(string(args))
		}
	}
	return tokens
}

func (c *Counter) init() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
}

// Window returns the newest suffix of msgs that fits in budget tokens.
// A tool result is never kept without the assistant message that requested
// it. budget <= 0 returns msgs unchanged.
func Window(msgs []domain.Message, budget int) []domain.Message {
	return defaultCounter.Window(msgs, budget)
}

// Window is the Counter form of the package-level Window.
func (c *Counter) Window(msgs []domain.Message, budget int) []domain.Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}

	start := len(msgs)
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		n := c.CountMessage(msgs[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	for start < len(msgs) && msgs[start].Role == domain.RoleTool {
		start++
	}
	return msgs[start:]
}
