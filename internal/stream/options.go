// Package stream keeps one live push connection per endpoint URL and fans its
// events out to any number of in-process consumers.
package stream

import (
	"log"
	"net/http"
	"time"

	"k8s.io/utils/clock"
)

// Defaults for Options.
const (
	DefaultReconnectFloor   = time.Second
	DefaultReconnectCeiling = 15 * time.Second
	DefaultLivenessTick     = 5 * time.Second
	DefaultLivenessTimeout  = 20 * time.Second
	DefaultLivenessStrikes  = 2
	DefaultDebugRingSize    = 50
	DefaultHeartbeatEvent   = "heartbeat"
)

// Options tune every connection created by a Manager. Zero values take the defaults.
type Options struct {
	Transport Transport
	Clock     clock.WithTicker
	Logger    *log.Logger

	ReconnectFloor   time.Duration
	ReconnectCeiling time.Duration

	// LivenessTick is how often silence is checked. A connection is declared
	// timed out after LivenessStrikes consecutive ticks with no message for
	// longer than LivenessTimeout.
	LivenessTick    time.Duration
	LivenessTimeout time.Duration
	LivenessStrikes int

	DebugRingSize  int
	HeartbeatEvent string
}

func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = HTTPTransport{Client: &http.Client{}}
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.ReconnectFloor <= 0 {
		o.ReconnectFloor = DefaultReconnectFloor
	}
	if o.ReconnectCeiling <= 0 {
		o.ReconnectCeiling = DefaultReconnectCeiling
	}
	if o.ReconnectCeiling < o.ReconnectFloor {
		o.ReconnectCeiling = o.ReconnectFloor
	}
	if o.LivenessTick <= 0 {
		o.LivenessTick = DefaultLivenessTick
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = DefaultLivenessTimeout
	}
	if o.LivenessStrikes <= 0 {
		o.LivenessStrikes = DefaultLivenessStrikes
	}
	if o.DebugRingSize <= 0 {
		o.DebugRingSize = DefaultDebugRingSize
	}
	if o.HeartbeatEvent == "" {
		o.HeartbeatEvent = DefaultHeartbeatEvent
	}
	return o
}
