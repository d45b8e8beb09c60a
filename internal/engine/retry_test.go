package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		name   string
		policy BackoffPolicy
		retry  int
		want   time.Duration
	}{
		{"no delay", BackoffPolicy{Strategy: BackoffExponential}, 3, 0},
		{"none", BackoffPolicy{Strategy: BackoffNone, Delay: time.Second}, 1, 0},
		{"constant", BackoffPolicy{Strategy: BackoffConstant, Delay: time.Second}, 4, time.Second},
		{"linear", BackoffPolicy{Strategy: BackoffLinear, Delay: time.Second}, 2, 3 * time.Second},
		{"exponential first", BackoffPolicy{Strategy: BackoffExponential, Delay: 100 * time.Millisecond}, 0, 100 * time.Millisecond},
		{"exponential third", BackoffPolicy{Strategy: BackoffExponential, Delay: 100 * time.Millisecond}, 2, 400 * time.Millisecond},
		{"exponential capped", BackoffPolicy{Strategy: BackoffExponential, Delay: time.Second, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"linear capped", BackoffPolicy{Strategy: BackoffLinear, Delay: time.Second, MaxDelay: 2 * time.Second}, 5, 2 * time.Second},
		{"negative retry", BackoffPolicy{Strategy: BackoffLinear, Delay: time.Second}, -2, time.Second},
		{"unknown strategy", BackoffPolicy{Strategy: "fibonacci", Delay: time.Second}, 3, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeBackoff(tt.policy, tt.retry))
		})
	}
}

func TestComputeBackoff_ExponentialDoesNotOverflow(t *testing.T) {
	d := ComputeBackoff(BackoffPolicy{Strategy: BackoffExponential, Delay: time.Hour}, 200)
	assert.Positive(t, d)
}

func TestBackoffFromParams(t *testing.T) {
	p := BackoffFromParams(map[string]any{"backoff": "linear", "delay": "2s", "maxDelay": "1m"})
	assert.Equal(t, BackoffPolicy{Strategy: BackoffLinear, Delay: 2 * time.Second, MaxDelay: time.Minute}, p)

	assert.Equal(t, BackoffConstant, BackoffFromParams(nil).Strategy)
}
