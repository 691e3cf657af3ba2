package textutil

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Errorf("EstimateTokens(\"\") = %d, want 1", got)
	}
	if got := EstimateTokens(strings.Repeat("a", 40)); got != 10 {
		t.Errorf("EstimateTokens(40 chars) = %d, want 10", got)
	}
}

func TestCountTokensNonZero(t *testing.T) {
	if got := CountTokens("hello world"); got < 1 {
		t.Errorf("CountTokens = %d, want >= 1", got)
	}
}

func TestTruncateNoop(t *testing.T) {
	text := "short text"
	if got := Truncate(text, 1000, ""); got != text {
		t.Errorf("Truncate below budget changed text: %q", got)
	}
}

func TestTruncatePreservesLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line with a handful of words in it\n")
	}
	got := Truncate(b.String(), 50, "")
	if !strings.HasSuffix(got, DefaultTruncationSuffix) {
		t.Errorf("truncated text missing suffix: %q", got[len(got)-40:])
	}
	body := strings.TrimSuffix(got, DefaultTruncationSuffix)
	for _, line := range strings.Split(body, "\n") {
		if line != "" && line != "line with a handful of words in it" {
			t.Errorf("line was cut mid-way: %q", line)
		}
	}
	if CountTokens(got) > 50 {
		t.Errorf("truncated text still over budget: %d tokens", CountTokens(got))
	}
}

func TestTruncateTinyBudget(t *testing.T) {
	got := Truncate(strings.Repeat("word ", 500), 1, "")
	if got != strings.TrimSpace(DefaultTruncationSuffix) {
		t.Errorf("Truncate with tiny budget = %q", got)
	}
}
