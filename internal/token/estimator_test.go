package token

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func lengthCounter(calls *atomic.Int64) CountFunc {
	return func(modelID, text string) (int, error) {
		calls.Add(1)
		return len(text), nil
	}
}

func TestEstimator_Estimate(t *testing.T) {
	t.Run("empty text is zero without measuring", func(t *testing.T) {
		var calls atomic.Int64
		e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

		assert.Equal(t, 0, e.Estimate("m", ""))
		assert.Equal(t, int64(0), calls.Load())
	})

	t.Run("returns counter result", func(t *testing.T) {
		var calls atomic.Int64
		e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

		assert.Equal(t, 5, e.Estimate("m", "hello"))
	})

	t.Run("identical content measured exactly once", func(t *testing.T) {
		var calls atomic.Int64
		e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

		content := strings.Repeat("x", 100)
		for i := 0; i < 10; i++ {
			assert.Equal(t, 100, e.Estimate("m", content))
		}
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("model id is part of the cache key", func(t *testing.T) {
		var calls atomic.Int64
		e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

		e.Estimate("model-a", "same content")
		e.Estimate("model-b", "same content")
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("counter error degrades to heuristic", func(t *testing.T) {
		e := NewEstimatorWithCounter(zap.NewNop(), func(modelID, text string) (int, error) {
			return 0, errors.New("no encoder data")
		})

		text := strings.Repeat("a", 30)
		assert.Equal(t, HeuristicTokens(text), e.Estimate("m", text))
	})

	t.Run("negative counter result degrades to heuristic", func(t *testing.T) {
		e := NewEstimatorWithCounter(zap.NewNop(), func(modelID, text string) (int, error) {
			return -1, nil
		})
		assert.Equal(t, HeuristicTokens("abcd"), e.Estimate("m", "abcd"))
	})
}

func TestEstimator_ConcurrentComputeOnce(t *testing.T) {
	var calls atomic.Int64
	e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

	content := strings.Repeat("concurrent payload ", 50)
	const workers = 32

	var wg sync.WaitGroup
	results := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Estimate("m", content)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, len(content), r)
	}
	// singleflight collapses concurrent callers for the same key.
	assert.Equal(t, int64(1), calls.Load())
}

func TestEstimator_EstimateWithOverhead(t *testing.T) {
	var calls atomic.Int64
	e := NewEstimatorWithCounter(zap.NewNop(), lengthCounter(&calls))

	t.Run("adds fixed overhead", func(t *testing.T) {
		assert.Equal(t, 5+12, e.EstimateWithOverhead("m", "hello", 12))
	})

	t.Run("negative overhead clamped to zero", func(t *testing.T) {
		assert.Equal(t, 5, e.EstimateWithOverhead("m", "hello", -7))
	})

	t.Run("overhead does not defeat memoization", func(t *testing.T) {
		before := calls.Load()
		e.EstimateWithOverhead("m", "hello", 3)
		e.EstimateWithOverhead("m", "hello", 99)
		assert.Equal(t, before, calls.Load())
	})
}

func TestHeuristicTokens(t *testing.T) {
	assert.Equal(t, 0, HeuristicTokens(""))
	assert.Equal(t, 1, HeuristicTokens("ab"))
	assert.Equal(t, 1, HeuristicTokens("abc"))
	assert.Equal(t, 2, HeuristicTokens("abcd"))
	assert.Equal(t, 10, HeuristicTokens(strings.Repeat("z", 30)))
}

func TestHashContent(t *testing.T) {
	require.Equal(t, HashContent("same"), HashContent("same"))
	assert.NotEqual(t, HashContent("same"), HashContent("different"))
	assert.Len(t, HashContent(""), 64)
}
