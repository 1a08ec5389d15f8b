// Package token provides memoized token estimation for budgeting decisions.
// Counts are deterministic within a run: identical (model, content) pairs are
// measured exactly once and the cached value is reused for every subsequent
// packing decision that touches the same content.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// heuristicCharsPerToken is the divisor for the fallback estimate. Real
// tokenizers average closer to 4 chars/token on English text; 3 biases the
// estimate upward so a degraded count never sneaks a request past a ceiling.
const heuristicCharsPerToken = 3

// CountFunc measures the token count of text for a model. Implementations
// may fail (e.g. tokenizer data unavailable); the Estimator absorbs the
// failure and substitutes a heuristic.
type CountFunc func(modelID, text string) (int, error)

// Estimator produces token counts for (model, text) pairs. Safe for
// concurrent use. The cache is append-only for the lifetime of the
// Estimator: a populated key is never recomputed or evicted.
type Estimator struct {
	logger *zap.Logger
	count  CountFunc

	mu    sync.RWMutex
	cache map[string]int

	// group collapses concurrent measurements of the same key so the
	// compute-once guarantee holds even when packing runs in parallel.
	group singleflight.Group

	encMu    sync.Mutex
	encoders map[string]*tiktoken.Tiktoken

	warnOnce sync.Map // modelID -> struct{}, limits degraded-estimate warnings
}

// NewEstimator creates an Estimator backed by tiktoken, degrading to a
// conservative character heuristic when the encoding for a model cannot be
// loaded. Pass a nop logger if logging is not wanted.
func NewEstimator(logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Estimator{
		logger:   logger,
		cache:    make(map[string]int),
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
	e.count = e.tiktokenCount
	return e
}

// NewEstimatorWithCounter creates an Estimator that measures with the given
// CountFunc instead of tiktoken. Used by tests and by callers that already
// have a provider-side count endpoint.
func NewEstimatorWithCounter(logger *zap.Logger, count CountFunc) *Estimator {
	e := NewEstimator(logger)
	if count != nil {
		e.count = count
	}
	return e
}

// Estimate returns the token count for text under modelID. Never negative,
// never fails: tokenizer errors degrade to HeuristicTokens. Empty text is 0.
func (e *Estimator) Estimate(modelID, text string) int {
	if text == "" {
		return 0
	}
	key := cacheKey(modelID, text)

	e.mu.RLock()
	n, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return n
	}

	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have stored the value between the
		// read above and entering the flight group.
		e.mu.RLock()
		n, ok := e.cache[key]
		e.mu.RUnlock()
		if ok {
			return n, nil
		}

		n = e.measure(modelID, text)
		e.mu.Lock()
		e.cache[key] = n
		e.mu.Unlock()
		return n, nil
	})
	return v.(int)
}

// EstimateWithOverhead returns Estimate(modelID, text) plus a fixed
// envelope overhead (e.g. the wrapper-tag tokens spent embedding a file in
// a prompt). The overhead is a precomputed constant, not re-measured text.
func (e *Estimator) EstimateWithOverhead(modelID, text string, overhead int) int {
	if overhead < 0 {
		overhead = 0
	}
	return e.Estimate(modelID, text) + overhead
}

func (e *Estimator) measure(modelID, text string) int {
	n, err := e.count(modelID, text)
	if err != nil || n < 0 {
		if _, warned := e.warnOnce.LoadOrStore(modelID, struct{}{}); !warned {
			e.logger.Warn("tokenizer unavailable, using heuristic estimates",
				zap.String("model", modelID),
				zap.Error(err))
		}
		return HeuristicTokens(text)
	}
	return n
}

// tiktokenCount resolves the encoding for modelID (falling back to the
// cl100k_base encoding for unrecognized models) and counts with it.
func (e *Estimator) tiktokenCount(modelID, text string) (int, error) {
	enc, err := e.encoderFor(modelID)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (e *Estimator) encoderFor(modelID string) (*tiktoken.Tiktoken, error) {
	e.encMu.Lock()
	defer e.encMu.Unlock()

	if enc, ok := e.encoders[modelID]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	e.encoders[modelID] = enc
	return enc, nil
}

// HeuristicTokens is the conservative fallback estimate: chars divided by
// heuristicCharsPerToken, rounded up.
func HeuristicTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
}

// HashContent computes the SHA-256 digest of content, hex-encoded. Identical
// content under different logical paths collapses to one cache entry.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func cacheKey(modelID, text string) string {
	var b strings.Builder
	b.Grow(len(modelID) + 1 + 64)
	b.WriteString(modelID)
	b.WriteByte(0)
	b.WriteString(HashContent(text))
	return b.String()
}
