package tools

import (
	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/identity"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/store"
	"github.com/datacontracts/shepherd/internal/suggest"
)

// Deps is the shared dependency set every tool closes over. It is built
// once at startup and passed to NewCatalog.
type Deps struct {
	Store    *store.Store
	Chat     chat.Service
	LLM      llm.Provider // optional; save_contract runs no LLM relationship pass either way
	Identity *identity.Service
	Audit    *audit.Log
	Suggest  *suggest.Engine // optional: nil disables save_contract's post-agreement suggestion attempt
}

// schema is a tiny helper for building JSON Schema parameter objects
// without repeating the map[string]any boilerplate in every tool.
func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}
