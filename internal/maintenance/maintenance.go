// Package maintenance runs the periodic background jobs of the session
// engine: archiving excess branches and sweeping abandoned streams.
package maintenance

import "context"

// Job is one periodic background task.
type Job interface {
	// Name returns a unique identifier, used for logging and dedup.
	Name() string

	// Schedule returns a 5-field cron expression (e.g. "*/5 * * * *").
	Schedule() string

	// Run executes one tick of the job. Implementations should honor
	// ctx cancellation for graceful shutdown.
	Run(ctx context.Context) error
}
