package core

import "context"

// AgentHandle is what the registry hands out for a cross-agent call,
// replacing duck-typed "URL plus convention" dispatch with a small
// explicit interface. An agent that wants to call a dependency asks its
// registry client to resolve one of these rather than building a URL
// itself.
type AgentHandle interface {
	Manifest() AgentManifest
	Call(ctx context.Context, verb string, params map[string]interface{}, timeout int) (map[string]interface{}, error)
}

// AgentResolver resolves a live AgentHandle for an agent id, or for all
// agents advertising a capability verb.
type AgentResolver interface {
	Resolve(ctx context.Context, agentID string) (AgentHandle, error)
	ResolveForCapability(ctx context.Context, verb string) ([]AgentHandle, error)
}
