package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshvoice/internal/domain"
)

// ErrMediaAcquisition marks a failed local capture acquisition
// (permission denied, no device). Scoped to one session.
var ErrMediaAcquisition = errors.New("media acquisition failed")

// MediaSource acquires the local audio capture.
type MediaSource interface {
	AcquireAudio(ctx context.Context) (LocalAudio, error)
}

// LocalAudio is a handle to mutable capture hardware. It is shared by
// reference across every peer session of one call: individual sessions
// must never Stop() it, only the call-level teardown does.
type LocalAudio interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the capture device. Must be idempotent.
	Stop()
}

// MediaConnection is the session-facing view of one media-transport
// connection. Implemented by the rtc adapter over pion, and by fakes
// in tests.
type MediaConnection interface {
	CreateAndSetOffer() (webrtc.SessionDescription, error)
	ApplyRemoteOffer(webrtc.SessionDescription) error
	CreateAndSetAnswer() (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error

	// HasRemoteDescription reports whether a remote description has
	// been applied; until then incoming candidates must be queued.
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error

	AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that fires when a remote track arrives.
	OnTrack(func(*webrtc.TrackRemote))
	// OnConnected fires once the transport reaches the connected state.
	OnConnected(func())
	// OnFailed fires on irrecoverable transport failure.
	OnFailed(func())

	// Close must be safe to call more than once.
	Close()
}

// ConnectionFactory builds the media connection for one remote peer.
type ConnectionFactory func(remote domain.UserID) (MediaConnection, error)

// AudioSink is the output contract exposed to the UI collaborator: it
// receives each remote peer's track keyed by the stable remote user id
// and binds it to whatever renders audio. The core never renders.
type AudioSink interface {
	BindRemoteTrack(user domain.UserID, track *webrtc.TrackRemote)
	UnbindRemote(user domain.UserID)
}
