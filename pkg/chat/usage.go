package chat

// TokenUsage is an aggregated view of token consumption for one scope
// (session or user). It is derived from counters in the record store, not
// stored as an entity itself.
type TokenUsage struct {
	Prompt     int64         `json:"prompt"`
	Completion int64         `json:"completion"`
	Total      int64         `json:"total"`
	Windows    *UsageWindows `json:"windows,omitempty"`
}

// UsageWindows holds rolling time-bucketed totals used for rate limiting.
type UsageWindows struct {
	Hour  int64 `json:"hour"`
	Day   int64 `json:"day"`
	Month int64 `json:"month"`
}
