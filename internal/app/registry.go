package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// SessionInfo is a read-only view of one session for APIs.
type SessionInfo struct {
	UserID domain.UserID `json:"user_id"`
	Role   string        `json:"role"`
	State  string        `json:"state"`
}

// Registry is the authoritative collection of peer sessions for the
// local user: at most one session per remote user id, never one for
// the local id. It also owns the call-shared local capture, acquired
// at most once while any session is open and stopped only by
// RemoveAll.
type Registry struct {
	currentUserID domain.UserID
	transport     core.SignalingTransport
	source        core.MediaSource
	connect       core.ConnectionFactory
	sink          core.AudioSink

	mu       sync.RWMutex
	sessions map[domain.UserID]*PeerSession
	muted    bool

	mediaMu sync.Mutex
	audio   core.LocalAudio
}

func NewRegistry(
	currentUserID domain.UserID,
	transport core.SignalingTransport,
	source core.MediaSource,
	connect core.ConnectionFactory,
	sink core.AudioSink,
) *Registry {
	return &Registry{
		currentUserID: currentUserID,
		transport:     transport,
		source:        source,
		connect:       connect,
		sink:          sink,
		sessions:      make(map[domain.UserID]*PeerSession),
	}
}

// CreateSession returns the session for remote, creating it when
// absent. Creation is idempotent: an existing session is returned
// as-is with created=false. The local user's own id is rejected.
//
// For an initiator session the negotiation sequence starts
// asynchronously as a side effect.
func (r *Registry) CreateSession(
	ctx context.Context,
	remote domain.UserID,
	role NegotiationRole,
) (*PeerSession, bool, error) {
	if remote == r.currentUserID {
		return nil, false, ErrOwnUserID
	}

	r.mu.Lock()
	if s, ok := r.sessions[remote]; ok {
		r.mu.Unlock()
		return s, false, nil
	}

	conn, err := r.connect(remote)
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	s := newPeerSession(remote, role, conn, r.transport, r.acquireShared)
	s.setOnClosed(func() {
		r.dropSession(remote)
		r.sink.UnbindRemote(remote)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		if s.State() == StateClosed {
			return
		}
		r.sink.BindRemoteTrack(remote, track)
	})
	r.sessions[remote] = s
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").
		Str("remote", string(remote)).Str("role", role.String()).
		Msg("created session")

	if role == RoleInitiator {
		go func() {
			if err := s.Initiate(ctx); err != nil {
				log.Warn().Err(err).Str("module", "app.registry").
					Str("remote", string(remote)).Msg("negotiation failed")
				r.RemoveSession(remote)
				return
			}
			if r.Muted() {
				_ = s.SetMuted(true)
			}
		}()
	}
	return s, true, nil
}

// Lookup is a pure read.
func (r *Registry) Lookup(remote domain.UserID) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[remote]
	return s, ok
}

// RemoveSession closes and deletes the session for remote. Idempotent;
// an absent id is not an error.
func (r *Registry) RemoveSession(remote domain.UserID) {
	r.mu.Lock()
	s, ok := r.sessions[remote]
	delete(r.sessions, remote)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	log.Info().Str("module", "app.registry").Str("remote", string(remote)).Msg("removed session")
}

// RemoveAll closes every session and stops the shared capture exactly
// once. Used at call termination; session close order is unspecified.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	all := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[domain.UserID]*PeerSession)
	r.muted = false
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}

	r.mediaMu.Lock()
	if r.audio != nil {
		r.audio.Stop()
		r.audio = nil
	}
	r.mediaMu.Unlock()
	log.Info().Str("module", "app.registry").Int("count", len(all)).Msg("removed all sessions")
}

// Reconcile creates responder sessions for every snapshot member other
// than the current user that has none yet. It never removes sessions:
// leaves are handled by explicit leave events, not snapshot diffing.
func (r *Registry) Reconcile(ctx context.Context, room domain.Room) {
	for _, u := range room.Others(r.currentUserID) {
		if _, created, err := r.CreateSession(ctx, u.ID, RoleResponder); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").
				Str("remote", string(u.ID)).Msg("reconcile: create session")
		} else if created {
			log.Info().Str("module", "app.registry").
				Str("remote", string(u.ID)).Str("room", string(room.ID)).
				Msg("reconcile: awaiting offer")
		}
	}
}

// SetMuted pauses or resumes outgoing audio on every session and is
// remembered for sessions created later in the call.
func (r *Registry) SetMuted(muted bool) {
	r.mu.Lock()
	r.muted = muted
	all := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		if err := s.SetMuted(muted); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").
				Str("remote", string(s.RemoteUserID())).Msg("set muted")
		}
	}
}

func (r *Registry) Muted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muted
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot lists the sessions for the control API.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionInfo{
			UserID: id,
			Role:   s.Role().String(),
			State:  s.State().String(),
		})
	}
	return out
}

// dropSession removes the map entry without closing: used by the
// session's own close hook so transport failures clean up after
// themselves.
func (r *Registry) dropSession(remote domain.UserID) {
	r.mu.Lock()
	delete(r.sessions, remote)
	r.mu.Unlock()
}

// acquireShared hands out the one capture stream of the call,
// acquiring it on first use. Serialized so concurrent negotiations
// cannot double-open the device.
func (r *Registry) acquireShared(ctx context.Context) (core.LocalAudio, error) {
	r.mediaMu.Lock()
	defer r.mediaMu.Unlock()
	if r.audio != nil {
		return r.audio, nil
	}
	audio, err := r.source.AcquireAudio(ctx)
	if err != nil {
		return nil, err
	}
	r.audio = audio
	log.Info().Str("module", "app.registry").Msg("acquired local capture")
	return audio, nil
}
