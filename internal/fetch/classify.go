package fetch

import (
	"context"
	"errors"
	"io"

	"github.com/relaystream/core/internal/remote"
)

// classify maps a backend error (or io.EOF observed before all requested
// chunks were delivered) to a recovery Reason, or returns (ReasonNone,
// false) to signal the error is fatal and must not be retried (§4.3.5).
func classify(err error) (reason Reason, waitSeconds int, ok bool) {
	if err == nil {
		return ReasonNone, 0, false
	}
	if errors.Is(err, remote.ErrHandleExpired) {
		return ReasonHandleExpired, 0, true
	}
	var rateLimited *remote.ErrRateLimited
	if errors.As(err, &rateLimited) {
		return ReasonBackoff, rateLimited.Wait, true
	}
	if errors.Is(err, remote.ErrDesync) {
		return ReasonIO, 0, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonIO, 0, true
	}
	if errors.Is(err, io.EOF) {
		return ReasonIncomplete, 0, true
	}
	return ReasonNone, 0, false
}
