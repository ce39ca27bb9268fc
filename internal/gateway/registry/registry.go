// Package registry maps tool names to handlers and their declared input
// contracts. Registration happens once at startup; lookups are read-only.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

// ParamType enumerates the accepted parameter types.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
}

// Descriptor describes a registered tool. Immutable after registration.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"parameters"`
	// RequiredScope, when set, names the scope a caller's key must carry to
	// invoke the tool.
	RequiredScope string `json:"required_scope,omitempty"`
}

// InvokeFunc executes a tool with validated parameters and the caller's
// resolved auth record.
type InvokeFunc func(ctx context.Context, params map[string]any, record *models.AuthRecord) (any, error)

// Handler bundles a tool's contract with its implementation.
type Handler struct {
	desc   Descriptor
	invoke InvokeFunc
}

// Descriptor returns the tool's declared contract.
func (h *Handler) Descriptor() Descriptor {
	return h.desc
}

// ValidateParams checks raw arguments against the descriptor, applying
// defaults and bounds, and returns the structured parameter map.
func (h *Handler) ValidateParams(raw map[string]any) (map[string]any, error) {
	return validateParams(h.desc, raw)
}

// Invoke runs the tool.
func (h *Handler) Invoke(ctx context.Context, params map[string]any, record *models.AuthRecord) (any, error) {
	return h.invoke(ctx, params, record)
}

// Registry holds all registered tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Handler)}
}

// Register adds a tool. Duplicate names are a programming error surfaced at
// startup.
func (r *Registry) Register(desc Descriptor, invoke InvokeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}

	r.tools[desc.Name] = &Handler{desc: desc, invoke: invoke}
	r.order = append(r.order, desc.Name)
	return nil
}

// Resolve returns the handler for the named tool.
func (r *Registry) Resolve(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		descs = append(descs, r.tools[name].desc)
	}
	return descs
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
