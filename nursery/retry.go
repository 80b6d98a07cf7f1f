package nursery

import (
	"strings"
	"time"
)

// retrySchedule is the channel-open backoff: 1x, 2x, 4x the base delay,
// capped at 4 attempts before the nursery gives up and leaves the swap's
// ChannelCreation record for an operator to retry manually.
var retrySchedule = []time.Duration{1, 2, 4}

const maxAttempts = 4

// backoff returns how long to wait before the next attempt once n attempts
// have already been made, and whether that attempt should be made at all.
func backoff(base time.Duration, n int) (time.Duration, bool) {
	if n >= maxAttempts {
		return 0, false
	}
	if n <= 0 {
		return 0, true
	}

	idx := n - 1
	if idx >= len(retrySchedule) {
		idx = len(retrySchedule) - 1
	}

	return base * retrySchedule[idx], true
}

// isTransientOpenChannelErr classifies channel-open failures the way
// instantout/actions.go classifies sweep RPC errors: by matching known
// substrings from lnd's OpenChannel RPC, since lnd does not expose a typed
// error for most of these. Anything not recognised here is treated as
// permanent and the nursery does not retry it.
func isTransientOpenChannelErr(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	for _, substr := range []string{
		"peer is not connected",
		"synchronizing",
		"not enough witness outputs",
		"i/o timeout",
		"connection reset",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}

	return false
}
