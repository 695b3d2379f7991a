package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/domain"
)

// Connection wraps one pion PeerConnection toward one remote peer and
// implements core.MediaConnection. Trickle ICE: descriptions are sent
// without waiting for gathering, candidates follow via OnICECandidate.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onConnected func()
	onFailed    func()

	closeOnce sync.Once
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewConnection(cfg webrtc.Configuration, remote domain.UserID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).
			Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).
			Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if c.onFailed != nil {
				c.onFailed()
			}
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})

	return c, nil
}

func (c *Connection) CreateAndSetOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) ApplyRemoteOffer(offer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(offer)
}

func (c *Connection) CreateAndSetAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches a local capture track to the PeerConnection.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets the application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote)) { c.onTrack = fn }

func (c *Connection) OnConnected(fn func()) { c.onConnected = fn }
func (c *Connection) OnFailed(fn func())    { c.onFailed = fn }

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Msg("closed")
		}
	})
}
