// Package engine orchestrates one chat turn end to end: resolve the
// session's branch, assemble a token-budgeted context, gate on rate
// limits, stream the provider's completion through the coordinator,
// persist the assistant message, and record token usage. The engine is
// transport agnostic; gateways hook live delivery through stream
// callbacks and the coordinator sink.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/braid/internal/branch"
	ctxengine "github.com/flemzord/braid/internal/context"
	"github.com/flemzord/braid/internal/provider"
	"github.com/flemzord/braid/internal/stream"
	"github.com/flemzord/braid/internal/token"
	"github.com/flemzord/braid/internal/usage"
)

var (
	// ErrRateLimited is returned when a turn is rejected by the user's
	// token rate limits.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStreamFailed is returned when the provider stream terminated
	// with an error before completing.
	ErrStreamFailed = errors.New("stream failed")
)

// Options are the collaborators the engine needs. All fields except
// Limits and Logger are required.
type Options struct {
	Branches  *branch.Manager
	Assembler *ctxengine.Assembler
	Counter   *token.Counter
	Providers *provider.Registry
	Streams   *stream.Coordinator
	Usage     *usage.Tracker

	// Limits gates the turn path. With Enabled false every turn passes.
	Limits usage.Limits

	Logger *slog.Logger
}

// Engine runs chat turns. Safe for concurrent use.
type Engine struct {
	branches  *branch.Manager
	assembler *ctxengine.Assembler
	counter   *token.Counter
	providers *provider.Registry
	streams   *stream.Coordinator
	usage     *usage.Tracker
	limits    usage.Limits
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New builds an Engine from its collaborators.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Branches == nil:
		return nil, fmt.Errorf("engine: branch manager is required")
	case opts.Assembler == nil:
		return nil, fmt.Errorf("engine: context assembler is required")
	case opts.Counter == nil:
		return nil, fmt.Errorf("engine: token counter is required")
	case opts.Providers == nil:
		return nil, fmt.Errorf("engine: provider registry is required")
	case opts.Streams == nil:
		return nil, fmt.Errorf("engine: stream coordinator is required")
	case opts.Usage == nil:
		return nil, fmt.Errorf("engine: usage tracker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		branches:  opts.Branches,
		assembler: opts.Assembler,
		counter:   opts.Counter,
		providers: opts.Providers,
		streams:   opts.Streams,
		usage:     opts.Usage,
		limits:    opts.Limits,
		logger:    logger.With("component", "engine"),
		tracer:    otel.Tracer("github.com/flemzord/braid/internal/engine"),
	}, nil
}
