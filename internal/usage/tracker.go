// Package usage accumulates prompt/completion token counts per session and
// per user, maintains rolling hour/day/month windows, and evaluates rate
// limit policies. All counters live in the record store; increments are
// atomic at the store level, so concurrent tracking needs no extra locking.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/braid/internal/store"
	"github.com/flemzord/braid/pkg/chat"
)

// Hash fields for usage counters.
const (
	fieldPrompt     = "prompt"
	fieldCompletion = "completion"
)

// Counter retention. Window buckets outlive their window slightly so a
// just-rolled-over bucket is still readable; the session counter lives for
// 30 days past the last turn.
const (
	sessionTTL = 30 * 24 * time.Hour
	hourTTL    = 2 * time.Hour
	dayTTL     = 48 * time.Hour
	monthTTL   = 32 * 24 * time.Hour
)

// Bucket key time layouts, truncated to hour/day/month.
const (
	hourLayout  = "2006-01-02T15"
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Tracker records token usage in the record store.
type Tracker struct {
	store  store.RecordStore
	logger *slog.Logger

	// now is injectable for deterministic bucket testing.
	now func() time.Time
}

// NewTracker creates a usage tracker over the given record store.
func NewTracker(st store.RecordStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  st,
		logger: logger.With("component", "usage"),
		now:    time.Now,
	}
}

func sessionUsageKey(sessionID string) string {
	return "usage:session:" + sessionID
}

func userUsageKey(userID string) string {
	return "usage:user:" + userID
}

func userBucketKey(userID, window, bucket string) string {
	return "usage:user:" + userID + ":" + window + ":" + bucket
}

// TrackSession adds a turn's token counts to the session's counters,
// refreshes the 30-day expiry, and returns the updated totals.
func (t *Tracker) TrackSession(ctx context.Context, sessionID string, promptTokens, completionTokens int, model string) (chat.TokenUsage, error) {
	key := sessionUsageKey(sessionID)
	prompt, err := t.store.HashIncrBy(ctx, key, fieldPrompt, int64(promptTokens))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: track session %s: %w", sessionID, err)
	}
	completion, err := t.store.HashIncrBy(ctx, key, fieldCompletion, int64(completionTokens))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: track session %s: %w", sessionID, err)
	}
	if err := t.store.Expire(ctx, key, sessionTTL); err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: refresh session expiry: %w", err)
	}

	t.logger.Debug("session usage tracked",
		"session_id", sessionID,
		"model", model,
		"prompt", promptTokens,
		"completion", completionTokens,
	)
	return chat.TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
	}, nil
}

// TrackUser adds a turn's token counts to the user's cumulative counters
// and to the current hour/day/month buckets. Each bucket carries its own
// expiry so storage growth stays bounded.
func (t *Tracker) TrackUser(ctx context.Context, userID string, promptTokens, completionTokens int, model string) (chat.TokenUsage, error) {
	key := userUsageKey(userID)
	prompt, err := t.store.HashIncrBy(ctx, key, fieldPrompt, int64(promptTokens))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: track user %s: %w", userID, err)
	}
	completion, err := t.store.HashIncrBy(ctx, key, fieldCompletion, int64(completionTokens))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: track user %s: %w", userID, err)
	}

	now := t.now()
	total := int64(promptTokens + completionTokens)
	windows := chat.UsageWindows{}
	buckets := []struct {
		window string
		bucket string
		ttl    time.Duration
		out    *int64
	}{
		{"hour", now.UTC().Format(hourLayout), hourTTL, &windows.Hour},
		{"day", now.UTC().Format(dayLayout), dayTTL, &windows.Day},
		{"month", now.UTC().Format(monthLayout), monthTTL, &windows.Month},
	}
	for _, b := range buckets {
		bkey := userBucketKey(userID, b.window, b.bucket)
		n, err := t.store.HashIncrBy(ctx, bkey, "total", total)
		if err != nil {
			return chat.TokenUsage{}, fmt.Errorf("usage: track user %s %s bucket: %w", userID, b.window, err)
		}
		if err := t.store.Expire(ctx, bkey, b.ttl); err != nil {
			return chat.TokenUsage{}, fmt.Errorf("usage: expire %s bucket: %w", b.window, err)
		}
		*b.out = n
	}

	t.logger.Debug("user usage tracked",
		"user_id", userID,
		"model", model,
		"prompt", promptTokens,
		"completion", completionTokens,
	)
	return chat.TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
		Windows:    &windows,
	}, nil
}

// SessionUsage returns the session's accumulated totals. A session with no
// recorded usage yields zeros.
func (t *Tracker) SessionUsage(ctx context.Context, sessionID string) (chat.TokenUsage, error) {
	fields, err := t.store.HashGetAll(ctx, sessionUsageKey(sessionID))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: session usage %s: %w", sessionID, err)
	}
	prompt := fields[fieldPrompt]
	completion := fields[fieldCompletion]
	return chat.TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
	}, nil
}

// UserUsage returns the user's cumulative totals plus the current rolling
// window totals.
func (t *Tracker) UserUsage(ctx context.Context, userID string) (chat.TokenUsage, error) {
	fields, err := t.store.HashGetAll(ctx, userUsageKey(userID))
	if err != nil {
		return chat.TokenUsage{}, fmt.Errorf("usage: user usage %s: %w", userID, err)
	}
	windows, err := t.currentWindows(ctx, userID)
	if err != nil {
		return chat.TokenUsage{}, err
	}
	prompt := fields[fieldPrompt]
	completion := fields[fieldCompletion]
	return chat.TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
		Windows:    &windows,
	}, nil
}

// currentWindows reads the hour/day/month bucket totals for the current
// instant.
func (t *Tracker) currentWindows(ctx context.Context, userID string) (chat.UsageWindows, error) {
	now := t.now().UTC()
	var windows chat.UsageWindows
	reads := []struct {
		window string
		bucket string
		out    *int64
	}{
		{"hour", now.Format(hourLayout), &windows.Hour},
		{"day", now.Format(dayLayout), &windows.Day},
		{"month", now.Format(monthLayout), &windows.Month},
	}
	for _, r := range reads {
		fields, err := t.store.HashGetAll(ctx, userBucketKey(userID, r.window, r.bucket))
		if err != nil {
			return chat.UsageWindows{}, fmt.Errorf("usage: read %s bucket: %w", r.window, err)
		}
		*r.out = fields["total"]
	}
	return windows, nil
}
