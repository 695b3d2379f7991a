package media

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/domain"
)

// LogSink is the default core.AudioSink for the headless daemon: it
// only records which remote users have audio bound. A UI collaborator
// replaces it with something that actually renders.
type LogSink struct{}

func (LogSink) BindRemoteTrack(user domain.UserID, track *webrtc.TrackRemote) {
	e := log.Info().Str("module", "media.sink").Str("remote", string(user))
	if track != nil {
		e = e.Str("track_id", track.ID())
	}
	e.Msg("remote audio bound")
}

func (LogSink) UnbindRemote(user domain.UserID) {
	log.Info().Str("module", "media.sink").Str("remote", string(user)).Msg("remote audio unbound")
}
