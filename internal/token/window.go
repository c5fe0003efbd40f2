package token

import (
	"context"
	"strings"
)

// defaultContextWindow is the terminal fallback when nothing is known
// about the model.
const defaultContextWindow = 4096

// staticWindows maps model name prefixes to context window sizes. Checked
// in order, so more specific prefixes come first.
var staticWindows = []struct {
	prefix string
	size   int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo-16k", 16384},
	{"gpt-3.5", 16385},
	{"o1", 200000},
	{"o3", 200000},
	{"claude-3", 200000},
	{"claude", 100000},
	{"llama-3", 8192},
	{"mistral", 32768},
}

// ContextWindowSize resolves the model's context window: live model info,
// then the static table, then 4096. Lookup failures never abort a chat
// turn; they degrade to a fallback value.
func (c *Counter) ContextWindowSize(ctx context.Context, model string) int {
	if model == "" {
		return defaultContextWindow
	}
	if info, ok := c.modelInfo(ctx, model); ok && info.ContextLength > 0 {
		return info.ContextLength
	}
	m := strings.ToLower(model)
	for _, w := range staticWindows {
		if strings.HasPrefix(m, w.prefix) {
			return w.size
		}
	}
	return defaultContextWindow
}
