package stream

import "time"

// State is a handler's connection state.
type State string

// Connection states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed" // retry budget exhausted, only Restart leaves it
)

// Transition is one reported state change. Attempt is the 1-based dial
// attempt the transition belongs to; Err is the failure that caused it.
type Transition struct {
	From    State
	To      State
	Attempt int
	Err     error
	At      time.Time
}

// Feed selects which capture loop a frame subscription listens to.
type Feed int

const (
	// FeedMonitoring carries frames read by the low-rate monitoring loop.
	FeedMonitoring Feed = iota
	// FeedVideo carries frames read by the live-view loop.
	FeedVideo
)

func (f Feed) String() string {
	if f == FeedVideo {
		return "video"
	}
	return "monitoring"
}

// ErrorEvent is published for every connection, capture and decode failure.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
	At   time.Time
}

// ErrorKind tells where a failure happened.
type ErrorKind string

const (
	ErrorConnect ErrorKind = "connect"
	ErrorCapture ErrorKind = "capture"
	ErrorDecode  ErrorKind = "decode"
)
