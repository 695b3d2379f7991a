package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type SessionState int

const (
	StateNew SessionState = iota
	StateAwaitingLocalMedia
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingLocalMedia:
		return "awaiting_local_media"
	case StateOfferSent:
		return "offer_sent"
	case StateAnswerSent:
		return "answer_sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// NegotiationRole is fixed at session creation and never renegotiated.
type NegotiationRole int

const (
	// RoleInitiator originates the offer: the already-present member
	// initiates toward a newcomer.
	RoleInitiator NegotiationRole = iota
	// RoleResponder waits for the remote offer and answers it.
	RoleResponder
)

func (r NegotiationRole) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// MediaFunc acquires or reuses the call-shared local capture.
// The registry supplies it so the capture is acquired at most once.
type MediaFunc func(ctx context.Context) (core.LocalAudio, error)

// PeerSession is the per-remote-participant negotiation state machine.
// It exclusively owns one media connection; the local capture it binds
// is shared with every other session of the call and is never stopped
// here, only detached on Close.
type PeerSession struct {
	remote    domain.UserID
	role      NegotiationRole
	transport core.SignalingTransport
	media     MediaFunc

	mu            sync.Mutex
	state         SessionState
	conn          core.MediaConnection
	tracks        []webrtc.TrackLocal
	senders       []*webrtc.RTPSender
	pendingRemote []webrtc.ICECandidateInit
	onClosed      func()
}

func newPeerSession(
	remote domain.UserID,
	role NegotiationRole,
	conn core.MediaConnection,
	transport core.SignalingTransport,
	media MediaFunc,
) *PeerSession {
	s := &PeerSession{
		remote:    remote,
		role:      role,
		state:     StateNew,
		conn:      conn,
		transport: transport,
		media:     media,
	}

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if s.State() == StateClosed {
			return
		}
		if err := s.transport.SendCandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "app.session").
				Str("remote", string(remote)).Msg("send candidate")
		}
	})
	conn.OnConnected(s.markConnected)
	conn.OnFailed(func() {
		log.Warn().Str("module", "app.session").
			Str("remote", string(remote)).Msg("transport failed")
		s.Close()
	})

	return s
}

func (s *PeerSession) RemoteUserID() domain.UserID { return s.remote }
func (s *PeerSession) Role() NegotiationRole       { return s.role }

func (s *PeerSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initiate drives the initiator path: acquire/reuse local capture,
// bind its tracks, create and send the offer. A media failure closes
// only this session; it is not retried.
func (s *PeerSession) Initiate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNew {
		s.mu.Unlock()
		return nil
	}
	s.state = StateAwaitingLocalMedia
	s.mu.Unlock()

	audio, err := s.media(ctx)
	if err != nil {
		s.Close()
		return fmt.Errorf("initiate toward %s: %w", s.remote, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while awaiting media: discard the result. The shared
		// capture stays alive for the other sessions.
		s.mu.Unlock()
		return nil
	}
	if err := s.bindLocalLocked(audio); err != nil {
		s.mu.Unlock()
		s.Close()
		return err
	}
	offer, err := s.conn.CreateAndSetOffer()
	if err != nil {
		s.mu.Unlock()
		s.Close()
		return fmt.Errorf("%w: create offer: %v", ErrNegotiationProtocol, err)
	}
	s.state = StateOfferSent
	s.mu.Unlock()

	log.Info().Str("module", "app.session").Str("remote", string(s.remote)).Msg("offer sent")
	return s.transport.SendOffer(offer)
}

// HandleOffer drives the responder path: apply the remote offer, drain
// queued candidates, acquire/reuse local capture, answer.
func (s *PeerSession) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrStaleEvent
	}
	if s.state != StateNew && s.state != StateAwaitingLocalMedia {
		s.mu.Unlock()
		return fmt.Errorf("%w: offer in state %s", ErrNegotiationProtocol, s.state)
	}
	s.state = StateAwaitingLocalMedia
	if err := s.conn.ApplyRemoteOffer(offer); err != nil {
		s.mu.Unlock()
		s.Close()
		return fmt.Errorf("%w: apply offer: %v", ErrNegotiationProtocol, err)
	}
	if err := s.flushPendingLocked(); err != nil {
		s.mu.Unlock()
		s.Close()
		return err
	}
	s.mu.Unlock()

	audio, err := s.media(ctx)
	if err != nil {
		s.Close()
		return fmt.Errorf("answer to %s: %w", s.remote, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	if err := s.bindLocalLocked(audio); err != nil {
		s.mu.Unlock()
		s.Close()
		return err
	}
	answer, err := s.conn.CreateAndSetAnswer()
	if err != nil {
		s.mu.Unlock()
		s.Close()
		return fmt.Errorf("%w: create answer: %v", ErrNegotiationProtocol, err)
	}
	s.state = StateAnswerSent
	s.mu.Unlock()

	log.Info().Str("module", "app.session").Str("remote", string(s.remote)).Msg("answer sent")
	return s.transport.SendAnswer(answer, s.remote)
}

// HandleAnswer completes the initiator path and flushes the candidate
// queue in arrival order.
func (s *PeerSession) HandleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrStaleEvent
	}
	if s.state != StateOfferSent {
		s.mu.Unlock()
		return fmt.Errorf("%w: answer in state %s", ErrNegotiationProtocol, s.state)
	}
	if err := s.conn.ApplyAnswer(answer); err != nil {
		s.mu.Unlock()
		s.Close()
		return fmt.Errorf("%w: apply answer: %v", ErrNegotiationProtocol, err)
	}
	if err := s.flushPendingLocked(); err != nil {
		s.mu.Unlock()
		s.Close()
		return err
	}
	s.state = StateConnected
	s.mu.Unlock()

	log.Info().Str("module", "app.session").Str("remote", string(s.remote)).Msg("connected")
	return nil
}

// HandleCandidate applies the candidate immediately when a remote
// description is set, otherwise queues it. Candidates are never
// dropped while the session lives.
func (s *PeerSession) HandleCandidate(cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrStaleEvent
	}
	if !s.conn.HasRemoteDescription() {
		s.pendingRemote = append(s.pendingRemote, cand)
		s.mu.Unlock()
		return nil
	}
	if err := s.conn.AddICECandidate(cand); err != nil {
		s.mu.Unlock()
		s.Close()
		return fmt.Errorf("%w: add candidate: %v", ErrNegotiationProtocol, err)
	}
	s.mu.Unlock()
	return nil
}

// SetMuted pauses or resumes the outgoing audio senders. The shared
// capture keeps running; only this connection stops sending.
func (s *PeerSession) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	for i, snd := range s.senders {
		if snd == nil {
			continue
		}
		var t webrtc.TrackLocal
		if !muted {
			t = s.tracks[i]
		}
		if err := snd.ReplaceTrack(t); err != nil {
			return fmt.Errorf("replace track for %s: %w", s.remote, err)
		}
	}
	return nil
}

// Close is idempotent. It releases the media connection exactly once
// and detaches, but never stops, the shared local capture. Any async
// negotiation step that completes afterwards discards its result.
func (s *PeerSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.pendingRemote = nil
	conn := s.conn
	onClosed := s.onClosed
	s.mu.Unlock()

	conn.Close()
	if onClosed != nil {
		onClosed()
	}
	log.Info().Str("module", "app.session").Str("remote", string(s.remote)).Msg("session closed")
}

func (s *PeerSession) setOnClosed(fn func()) {
	s.mu.Lock()
	s.onClosed = fn
	s.mu.Unlock()
}

func (s *PeerSession) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The initiator reaches Connected when the answer is applied; the
	// responder when the transport itself comes up.
	if s.state == StateAnswerSent {
		s.state = StateConnected
	}
}

func (s *PeerSession) bindLocalLocked(audio core.LocalAudio) error {
	for _, t := range audio.Tracks() {
		snd, err := s.conn.AddLocalTrack(t)
		if err != nil {
			return fmt.Errorf("%w: add local track: %v", ErrNegotiationProtocol, err)
		}
		s.tracks = append(s.tracks, t)
		s.senders = append(s.senders, snd)
	}
	return nil
}

func (s *PeerSession) flushPendingLocked() error {
	for _, c := range s.pendingRemote {
		if err := s.conn.AddICECandidate(c); err != nil {
			return fmt.Errorf("%w: flush candidate: %v", ErrNegotiationProtocol, err)
		}
	}
	s.pendingRemote = nil
	return nil
}
