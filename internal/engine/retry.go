package engine

import (
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Backoff strategies accepted by the RETRY adviser.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// BackoffPolicy shapes the delay between retry attempts.
type BackoffPolicy struct {
	Strategy string
	Delay    time.Duration
	MaxDelay time.Duration
}

// BackoffFromParams reads "backoff", "delay" and "maxDelay".
func BackoffFromParams(params map[string]any) BackoffPolicy {
	return BackoffPolicy{
		Strategy: schema.StringParam(params, "backoff", BackoffConstant),
		Delay:    schema.DurationParam(params, "delay", 0),
		MaxDelay: schema.DurationParam(params, "maxDelay", 0),
	}
}

// ComputeBackoff returns the delay before retry number retry (0-based).
func ComputeBackoff(p BackoffPolicy, retry int) time.Duration {
	if p.Delay <= 0 || p.Strategy == BackoffNone {
		return 0
	}
	if retry < 0 {
		retry = 0
	}

	var delay time.Duration
	switch p.Strategy {
	case BackoffExponential:
		delay = p.Delay
		for i := 0; i < retry; i++ {
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				break
			}
			if delay > time.Duration(1<<62)/2 {
				break
			}
			delay *= 2
		}
	case BackoffLinear:
		delay = p.Delay * time.Duration(retry+1)
	default:
		delay = p.Delay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
