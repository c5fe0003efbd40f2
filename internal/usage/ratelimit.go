package usage

import (
	"context"

	"github.com/flemzord/braid/pkg/chat"
)

// Limits configures per-user token rate limiting. Zero thresholds mean
// that window is unchecked.
type Limits struct {
	Enabled bool  `yaml:"enabled"`
	Hourly  int64 `yaml:"hourly"`
	Daily   int64 `yaml:"daily"`
	Monthly int64 `yaml:"monthly"`
}

// Rate limit violation reasons, ordered by the window checked first.
const (
	ReasonHourly  = "hourly token limit exceeded"
	ReasonDaily   = "daily token limit exceeded"
	ReasonMonthly = "monthly token limit exceeded"
)

// RateLimitResult is the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason,omitempty"`
	Usage   chat.TokenUsage `json:"usage"`
}

// CheckRateLimits compares the user's current window usage against the
// configured thresholds, hour first, then day, then month; the first
// violated window wins. With limiting disabled every check passes (usage
// is still reported).
func (t *Tracker) CheckRateLimits(ctx context.Context, userID string, limits Limits) (RateLimitResult, error) {
	usage, err := t.UserUsage(ctx, userID)
	if err != nil {
		return RateLimitResult{}, err
	}
	result := RateLimitResult{Allowed: true, Usage: usage}
	if !limits.Enabled {
		return result, nil
	}

	w := usage.Windows
	switch {
	case limits.Hourly > 0 && w.Hour >= limits.Hourly:
		result.Allowed = false
		result.Reason = ReasonHourly
	case limits.Daily > 0 && w.Day >= limits.Daily:
		result.Allowed = false
		result.Reason = ReasonDaily
	case limits.Monthly > 0 && w.Month >= limits.Monthly:
		result.Allowed = false
		result.Reason = ReasonMonthly
	}
	return result, nil
}
