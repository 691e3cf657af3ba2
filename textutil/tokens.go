package textutil

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return
		}
		codec = c
	})
	return codec
}

// CountTokens returns the number of tokens in text under the cl100k_base
// encoding, falling back to a chars/4 estimate when the encoder is
// unavailable.
func CountTokens(text string) int {
	c := getCodec()
	if c == nil {
		return EstimateTokens(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return len(ids)
}

// EstimateTokens approximates a token count without an encoder.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// DefaultTruncationSuffix is appended to text cut off by Truncate.
const DefaultTruncationSuffix = "\n... [truncated]"

// Truncate cuts text down to at most maxTokens tokens, appending suffix when
// anything was removed. Whole lines are preserved when possible; when not
// even one line fits, the cut falls back to a character boundary. An empty
// suffix uses DefaultTruncationSuffix.
func Truncate(text string, maxTokens int, suffix string) string {
	if suffix == "" {
		suffix = DefaultTruncationSuffix
	}
	if CountTokens(text) <= maxTokens {
		return text
	}
	target := maxTokens - CountTokens(suffix)
	if target <= 0 {
		return strings.TrimSpace(suffix)
	}

	lines := strings.Split(text, "\n")
	var kept []string
	used := 0
	for _, line := range lines {
		lineTokens := CountTokens(line + "\n")
		if used+lineTokens > target {
			break
		}
		kept = append(kept, line)
		used += lineTokens
	}
	if len(kept) > 0 {
		return strings.Join(kept, "\n") + suffix
	}
	return truncateByChars(text, target) + suffix
}

// truncateByChars binary-searches for the longest prefix within the token
// budget.
func truncateByChars(text string, target int) string {
	low, high := 0, len(text)
	for low < high {
		mid := (low + high + 1) / 2
		if CountTokens(text[:mid]) <= target {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return text[:low]
}
