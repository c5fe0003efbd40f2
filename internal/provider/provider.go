// Package provider defines the capability contract for model backends.
// Concrete implementations live in separate packages (e.g.
// modules/provider/openai) and register through the module system for
// lifecycle management.
package provider

import "context"

// Provider is the interface for communicating with a model backend.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ListModels returns the models the backend currently serves.
	ListModels(ctx context.Context) ([]Model, error)

	// ContextWindowSize returns the maximum context window in tokens for
	// the default model.
	ContextWindowSize() int

	// ModelName returns the identifier of the default model.
	ModelName() string
}

// ModelInfoSource is an optional interface for providers that can report
// per-model metadata, used to size context windows without static tables.
type ModelInfoSource interface {
	// ModelInfo returns metadata for the model. The bool is false when
	// the backend has no record for it.
	ModelInfo(ctx context.Context, model string) (ModelInfo, bool, error)
}
