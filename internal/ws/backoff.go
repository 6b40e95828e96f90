// Package ws maintains long-lived WebSocket sessions with automatic
// reconnection and ramped backoff.
package ws

import (
	"math/rand"
	"time"

	"github.com/fivetwenty-io/meshapi/internal/constants"
)

// NextDelay returns the reconnect delay, in seconds, that follows prev.
//
// The ramp climbs by one second up to ten seconds, then by ten seconds up to
// a minute. Past the minute mark the delay plateaus at sixty seconds plus a
// random spread of up to nine minutes so that a fleet of clients does not
// reconnect in lockstep.
func NextDelay(prev int, rng *rand.Rand) int {
	switch {
	case prev < constants.BackoffRampCeiling:
		return prev + constants.BackoffRampStep
	case prev < constants.BackoffPlateau:
		return prev + constants.BackoffMidStep
	default:
		return constants.BackoffPlateau + rng.Intn(constants.BackoffJitterRange)
	}
}

// DelayDuration converts a delay in seconds to a time.Duration.
func DelayDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
