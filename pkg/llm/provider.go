// Package llm defines the contract between the agent loop and upstream
// model providers.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joss/sagi/internal/domain"
)

// Provider is the interface all LLM providers must implement
type Provider interface {
	ID() domain.ProviderID
	Name() string
	DefaultModel() string

	// Chat sends messages and returns a streaming response. Errors found
	// before any network I/O are returned directly; everything after is
	// delivered as a terminal error event on the channel.
	Chat(ctx context.Context, req *ChatRequest) (<-chan domain.StreamEvent, error)
}

// ChatRequest represents a request to the LLM
type ChatRequest struct {
	Model        string
	APIKey       string
	Messages     []domain.Message
	Tools        []domain.ToolDefinition
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	// Flex extends the request timeout for slow batch-priced tiers.
	Flex bool
}

// Registry holds all available providers
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ProviderID]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[domain.ProviderID]Provider),
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

func (r *Registry) Get(id domain.ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Lookup is Get with an error for unknown ids.
func (r *Registry) Lookup(id domain.ProviderID) (Provider, error) {
	if p, ok := r.Get(id); ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown provider: %s", id)
}

// List returns providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
