package sip

import (
	"regexp"
)

// SignalState mirrors the transport layer's call signaling states.
type SignalState int

const (
	StateRinging SignalState = iota
	StateAnswered
	StateConfirmed
	StateDisconnected
)

func (s SignalState) String() string {
	switch s {
	case StateRinging:
		return "RINGING"
	case StateAnswered:
		return "ANSWERED"
	case StateConfirmed:
		return "CONFIRMED"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}

// MediaSession is the per-call handle into the SIP/media stack. The stack
// itself (registration, codec negotiation, RTP) lives outside this service;
// only these operations cross the boundary. All methods must be invoked from
// the media thread.
type MediaSession interface {
	// Answer accepts the ringing call.
	Answer() error
	// Hangup terminates the call. Safe to call in any state.
	Hangup() error
	// RemoteURI returns the caller's SIP URI, e.g. "sip:79991234567@host".
	RemoteURI() string
	// NewRecorder binds a file-backed recorder to the inbound media path and
	// starts capturing 16-bit mono PCM into it.
	NewRecorder(path string) (Recorder, error)
	// NewPlayer binds a file-backed player to the outbound media path and
	// starts transmitting immediately.
	NewPlayer(path string, loop bool) (Player, error)
}

// Recorder captures inbound call audio into a WAV file.
type Recorder interface {
	Path() string
	Stop() error
}

// Player transmits a WAV file into the outbound media path.
type Player interface {
	Stop() error
}

// EventSink receives signaling callbacks from the transport layer. Callbacks
// are delivered on the media thread; implementations must dispatch any slow
// work to background tasks instead of blocking the delivering thread.
type EventSink interface {
	OnIncomingCall(media MediaSession)
	OnCallState(media MediaSession, state SignalState)
	OnMediaActive(media MediaSession)
}

var callerNumberRe = regexp.MustCompile(`sip:([^@>]+)@`)

// CallerNumber extracts the caller's number from a SIP remote URI. Returns
// an empty string when the URI does not carry one.
func CallerNumber(remoteURI string) string {
	m := callerNumberRe.FindStringSubmatch(remoteURI)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
