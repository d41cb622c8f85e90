package costguard

import (
	"testing"

	"github.com/fxintel/collector/internal/resilience"
)

func TestGuard(t *testing.T) {
	cases := []struct {
		name    string
		est     int64
		limit   int64
		wantErr bool
	}{
		{"under limit", 100, 1000, false},
		{"at limit", 1000, 1000, false},
		{"over limit", 1001, 1000, true},
		{"no limit", 1 << 40, 0, false},
		{"negative limit disables", 1 << 40, -1, false},
	}
	for _, tc := range cases {
		err := Guard(Estimate{Bytes: tc.est, Detail: tc.name}, tc.limit)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Guard = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if err != nil {
			if resilience.Code(err) != resilience.CodeCostExceeded {
				t.Errorf("%s: code = %s, want %s", tc.name, resilience.Code(err), resilience.CodeCostExceeded)
			}
			if resilience.IsRetryable(err) {
				t.Errorf("%s: cost violations must not be retryable", tc.name)
			}
		}
	}
}
