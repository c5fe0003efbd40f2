// Package ctxengine assembles token-budgeted context windows: it carves a
// model's context window into reservations (system prompt, user query,
// response, history) and selects the slice of conversation history that
// fits.
package ctxengine

import (
	"fmt"
	"math"
)

// reservationTolerance is how far the configured percentages may drift
// from summing to exactly 1.0.
const reservationTolerance = 0.001

// Config holds the reservation percentages and minimum token floors.
// Percentages must sum to 1.0 within a small tolerance; this is validated
// once at construction.
type Config struct {
	SystemPct   float64 `yaml:"system_pct"`
	QueryPct    float64 `yaml:"query_pct"`
	ResponsePct float64 `yaml:"response_pct"`
	HistoryPct  float64 `yaml:"history_pct"`

	MinSystem   int `yaml:"min_system"`
	MinQuery    int `yaml:"min_query"`
	MinResponse int `yaml:"min_response"`
}

// DefaultConfig returns the default reservation split: 10% system, 12%
// query, 28% response, 50% history, with 100/200/500 token minimums.
func DefaultConfig() Config {
	return Config{
		SystemPct:   0.10,
		QueryPct:    0.12,
		ResponsePct: 0.28,
		HistoryPct:  0.50,
		MinSystem:   100,
		MinQuery:    200,
		MinResponse: 500,
	}
}

// withDefaults fills a zero-value config with the defaults.
func (c Config) withDefaults() Config {
	if c.SystemPct == 0 && c.QueryPct == 0 && c.ResponsePct == 0 && c.HistoryPct == 0 {
		def := DefaultConfig()
		c.SystemPct = def.SystemPct
		c.QueryPct = def.QueryPct
		c.ResponsePct = def.ResponsePct
		c.HistoryPct = def.HistoryPct
	}
	if c.MinSystem == 0 {
		c.MinSystem = 100
	}
	if c.MinQuery == 0 {
		c.MinQuery = 200
	}
	if c.MinResponse == 0 {
		c.MinResponse = 500
	}
	return c
}

// validate checks the percentage sum invariant.
func (c Config) validate() error {
	sum := c.SystemPct + c.QueryPct + c.ResponsePct + c.HistoryPct
	if math.Abs(sum-1.0) > reservationTolerance {
		return fmt.Errorf("ctxengine: reservation percentages sum to %.4f, want 1.0", sum)
	}
	for name, pct := range map[string]float64{
		"system":   c.SystemPct,
		"query":    c.QueryPct,
		"response": c.ResponsePct,
		"history":  c.HistoryPct,
	} {
		if pct < 0 {
			return fmt.Errorf("ctxengine: %s percentage is negative", name)
		}
	}
	return nil
}
