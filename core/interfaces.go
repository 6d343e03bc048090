package core

import (
	"context"
)

// Logger is the minimal structured logging interface shared across every
// package in this module.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag, so logs from
// different subsystems (cache, llm, monitor, agent/<name>, ...) can be
// filtered without a separate field lookup.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as a zero-value default.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(string, map[string]interface{})                             {}
func (n *NoOpLogger) Error(string, map[string]interface{})                            {}
func (n *NoOpLogger) Warn(string, map[string]interface{})                             {}
func (n *NoOpLogger) Debug(string, map[string]interface{})                            {}
func (n *NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (n *NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
func (n *NoOpLogger) WithComponent(string) Logger                                      { return n }
