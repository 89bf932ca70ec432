package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Error-text patterns that must never trigger another attempt. Checked before
// the transient patterns so that, say, "connection denied by policy" is not
// retried just because it mentions a connection.
var nonRetryablePatterns = []string{
	"unauthorized",
	"authentication",
	"forbidden",
	"access denied",
	"permission denied",
	"validation",
	"captcha",
	"challenge",
	"human verification",
}

// Error-text patterns considered transient network or browser-channel trouble.
var retryablePatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"eof",
	"no such host",
	"dns",
	"network is unreachable",
	"temporary failure",
	"tls handshake",
	"websocket",
	"target closed",
	"browser has been closed",
	"navigation timeout",
	"net::err",
}

// DefaultClassifier is the engine-wide transient/fatal predicate. Typed checks
// run first; the pattern lists only catch errors that arrive as flat strings
// from the network stack or the remote-debugging channel. Errors matching
// neither list are treated as non-retryable.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is a caller decision, not a transient fault.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
