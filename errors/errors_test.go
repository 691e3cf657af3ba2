package errors

import (
	"fmt"
	"testing"
)

func TestWrapfNil(t *testing.T) {
	if err := Wrapf(nil, "context"); err != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	base := Classify(New("too many requests"), KindRateLimited)
	wrapped := Wrapf(base, "request failed")
	doubleWrapped := fmt.Errorf("attempt 2: %w", wrapped)

	if got := KindOf(doubleWrapped); got != KindRateLimited {
		t.Errorf("KindOf = %v, want KindRateLimited", got)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(New("boom")); got != KindUnknown {
		t.Errorf("KindOf = %v, want KindUnknown", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want KindUnknown", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimited, true},
		{KindConnectivity, true},
		{KindProtocol, false},
		{KindUnknown, false},
	}
	for _, tc := range cases {
		if got := tc.kind.Retryable(); got != tc.want {
			t.Errorf("%v.Retryable() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
