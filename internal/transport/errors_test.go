package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSendErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	cases := []struct {
		name      string
		err       error
		permanent bool
		transient bool
		retry     time.Duration
	}{
		{"nil", nil, false, false, 0},
		{"plain", base, false, true, 0},
		{"permanent", Permanent(base), true, false, 0},
		{"wrapped permanent", fmt.Errorf("deliver: %w", Permanent(base)), true, false, 0},
		{"transient retry", Transient(base, 3*time.Second), false, true, 3 * time.Second},
	}
	for _, tc := range cases {
		if got := IsPermanent(tc.err); got != tc.permanent {
			t.Fatalf("%s: IsPermanent=%v", tc.name, got)
		}
		if got := IsTransient(tc.err); got != tc.transient {
			t.Fatalf("%s: IsTransient=%v", tc.name, got)
		}
		if got := RetryAfter(tc.err); got != tc.retry {
			t.Fatalf("%s: RetryAfter=%v", tc.name, got)
		}
	}
	if !errors.Is(Permanent(base), base) {
		t.Fatalf("SendError must unwrap to the cause")
	}
}
