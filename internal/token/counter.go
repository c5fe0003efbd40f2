// Package token converts text to token counts and resolves model context
// windows. Tokenizer resolution is tiered: a live model-info record (cached
// for 30 minutes), a static model table, then a fixed default encoding.
// Counting never fails: when tokenization itself breaks, a character
// heuristic substitutes an estimate. Availability over precision.
package token

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/flemzord/braid/pkg/chat"
)

// Per-message and per-conversation formatting overhead, in tokens.
const (
	messageOverhead      = 4
	conversationOverhead = 2
)

// infoCacheTTL is how long a fetched model-info record stays valid.
const infoCacheTTL = 30 * time.Minute

// defaultEncoding is the terminal tokenizer tier.
const defaultEncoding = "cl100k_base"

// ModelInfo describes a model as reported by an info provider.
type ModelInfo struct {
	// Family is the model family ("gpt-4o", "claude", ...), used to infer
	// a tokenizer encoding.
	Family string

	// ContextLength is the model's context window in tokens. Zero means
	// unknown.
	ContextLength int
}

// InfoProvider optionally supplies live model metadata. Absence of a
// provider (or a miss) simply means the static fallback tables are used.
type InfoProvider interface {
	// ModelInfo returns metadata for the model. The bool is false when the
	// provider has no record for it.
	ModelInfo(ctx context.Context, model string) (ModelInfo, bool, error)
}

// encoder is the minimal tokenizer surface the counter depends on.
type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// staticEncodings maps model name prefixes to tiktoken encodings. Checked
// in order after the live model-info tier misses.
var staticEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"claude", "cl100k_base"},
	{"llama", "cl100k_base"},
	{"mistral", "cl100k_base"},
}

// Counter counts tokens with a per-model tokenizer and tiered fallback.
// Safe for concurrent use.
type Counter struct {
	provider InfoProvider
	logger   *slog.Logger

	mu    sync.Mutex
	infos map[string]infoEntry
	encs  map[string]encoder

	// loadEncoding and now are injectable for testing.
	loadEncoding func(name string) (encoder, error)
	now          func() time.Time
}

type infoEntry struct {
	info    ModelInfo
	ok      bool
	fetched time.Time
}

// NewCounter creates a token counter. provider may be nil; the static
// tables then serve every lookup.
func NewCounter(provider InfoProvider, logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		provider: provider,
		logger:   logger.With("component", "token"),
		infos:    make(map[string]infoEntry),
		encs:     make(map[string]encoder),
		loadEncoding: func(name string) (enc encoder, err error) {
			return tiktoken.GetEncoding(name)
		},
		now: time.Now,
	}
}

// Count returns the token count of text for the given model. It never
// fails: tokenizer errors degrade to a character heuristic. An empty model
// uses the default encoding.
func (c *Counter) Count(ctx context.Context, text, model string) int {
	if text == "" {
		return 0
	}
	enc, err := c.resolveEncoder(ctx, model)
	if err != nil {
		c.logger.Warn("tokenization degraded, using heuristic", "model", model, "error", err)
		return heuristicCount(text)
	}
	return safeEncode(enc, text)
}

// safeEncode counts via the encoder, falling back to the heuristic if the
// encoder panics on malformed input.
func safeEncode(enc encoder, text string) (n int) {
	defer func() {
		if recover() != nil {
			n = heuristicCount(text)
		}
	}()
	return len(enc.Encode(text, nil, nil))
}

// CountConversation returns the token count of a message slice including a
// fixed per-message overhead and conversation overhead.
func (c *Counter) CountConversation(ctx context.Context, messages []*chat.Message, model string) int {
	total := conversationOverhead
	for _, msg := range messages {
		total += messageOverhead + c.Count(ctx, msg.Content, model)
	}
	return total
}

// resolveEncoder applies the tokenizer tiers: model info, static table,
// default encoding.
func (c *Counter) resolveEncoder(ctx context.Context, model string) (encoder, error) {
	name := defaultEncoding
	if model != "" {
		if info, ok := c.modelInfo(ctx, model); ok && info.Family != "" {
			name = encodingForFamily(info.Family)
		} else if enc, ok := staticEncoding(model); ok {
			name = enc
		}
	}
	return c.encoderByName(name)
}

// encoderByName returns a cached encoder instance, loading it on first use.
func (c *Counter) encoderByName(name string) (encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[name]; ok {
		return enc, nil
	}
	enc, err := c.loadEncoding(name)
	if err != nil {
		if name == defaultEncoding {
			return nil, err
		}
		// The specific encoding failed to load; the default may still work.
		enc, err = c.loadEncoding(defaultEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.encs[name] = enc
	return enc, nil
}

// modelInfo returns the live model-info record, consulting the 30-minute
// cache first. Provider errors are logged and treated as a miss.
func (c *Counter) modelInfo(ctx context.Context, model string) (ModelInfo, bool) {
	if c.provider == nil {
		return ModelInfo{}, false
	}

	c.mu.Lock()
	entry, cached := c.infos[model]
	fresh := cached && c.now().Sub(entry.fetched) < infoCacheTTL
	c.mu.Unlock()
	if fresh {
		return entry.info, entry.ok
	}

	info, ok, err := c.provider.ModelInfo(ctx, model)
	if err != nil {
		c.logger.Warn("model info lookup failed", "model", model, "error", err)
		return ModelInfo{}, false
	}

	c.mu.Lock()
	c.infos[model] = infoEntry{info: info, ok: ok, fetched: c.now()}
	c.mu.Unlock()
	return info, ok
}

// encodingForFamily infers a tiktoken encoding from a model family name.
func encodingForFamily(family string) string {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "o200k"):
		return "o200k_base"
	case strings.HasPrefix(f, "gpt-4o"), strings.HasPrefix(f, "o1"), strings.HasPrefix(f, "o3"):
		return "o200k_base"
	default:
		return defaultEncoding
	}
}

func staticEncoding(model string) (string, bool) {
	m := strings.ToLower(model)
	for _, e := range staticEncodings {
		if strings.HasPrefix(m, e.prefix) {
			return e.encoding, true
		}
	}
	return "", false
}

// heuristicCount estimates tokens from character counts: scripts where
// more than half the characters are non-ASCII average ~1.5 characters per
// token; otherwise ~4.
func heuristicCount(text string) int {
	if text == "" {
		return 0
	}
	runes := []rune(text)
	nonASCII := 0
	for _, r := range runes {
		if r > 127 {
			nonASCII++
		}
	}
	n := float64(len(runes))
	if float64(nonASCII) > n/2 {
		return int(math.Ceil(n / 1.5))
	}
	return int(math.Ceil(n / 4))
}
