package upload

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/emmett/voxmsg/internal/common"
)

var retryablePatterns = []string{"network", "timeout", "timed out", "fetch"}

// IsRetryable reports whether err looks transient: a network or timeout
// signature in the message, or a connection reset/abort in the chain.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrCanceled) {
		return false
	}
	if errors.Is(err, common.ErrNetwork) ||
		errors.Is(err, common.ErrTimeout) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// linearBackoff waits base × n before the n-th retry and allows at most
// maxAttempts attempts in total.
func linearBackoff(base time.Duration, maxAttempts int) retry.Backoff {
	var n time.Duration
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * n, false
	})
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retry.WithMaxRetries(uint64(maxAttempts-1), b)
}
