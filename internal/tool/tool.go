// Package tool holds the tools the agent can call and their registry.
package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/joss/sagi/internal/domain"
)

// Tool is the interface all tools must implement
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	// ReadOnly tools never change state and skip the permission check.
	ReadOnly() bool
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result holds the output of a tool execution
type Result struct {
	Title    string         `json:"title,omitempty"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	IsError  bool           `json:"isError,omitempty"`
}

// Definition converts t to the form advertised to the model.
func Definition(t Tool) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Registry holds all available tools
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Definitions lists tool definitions, optionally only the read-only ones.
func (r *Registry) Definitions(readOnlyOnly bool) []domain.ToolDefinition {
	var defs []domain.ToolDefinition
	for _, t := range r.List() {
		if readOnlyOnly && !t.ReadOnly() {
			continue
		}
		defs = append(defs, Definition(t))
	}
	return defs
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return &Result{Output: ErrToolNotFound.Error(), IsError: true}, ErrToolNotFound
	}
	return t.Execute(ctx, args)
}

// Default returns a registry with bash and the artifact tools.
func Default(workDir string, artifacts ArtifactStore) *Registry {
	r := NewRegistry(NewBash(workDir))
	if artifacts != nil {
		for _, t := range ArtifactTools(artifacts) {
			r.Register(t)
		}
	}
	return r
}

type ToolError string

func (e ToolError) Error() string { return string(e) }

const (
	ErrToolNotFound ToolError = "tool not found"
	ErrInvalidArgs  ToolError = "invalid arguments"
	ErrNoChat       ToolError = "no chat in context"
)

type chatKey struct{}

// WithChatID scopes tool execution to a chat.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatKey{}, chatID)
}

// ChatIDFrom returns the chat id set by WithChatID.
func ChatIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(chatKey{}).(string)
	return id
}

func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}
