// Package media acquires the local audio capture through
// pion/mediadevices, the Go counterpart of the browser getUserMedia.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/core"
)

// Provider implements core.MediaSource over the default microphone,
// encoding with opus at 20 ms latency.
type Provider struct {
	selector *mediadevices.CodecSelector
}

func NewProvider() (*Provider, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Provider{selector: selector}, nil
}

// AcquireAudio opens the capture device. ctx is accepted for the
// contract; mediadevices has no cancellable acquisition.
func (p *Provider) AcquireAudio(_ context.Context) (core.LocalAudio, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: p.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	log.Info().Str("module", "media").
		Int("audio_tracks", len(stream.GetAudioTracks())).Msg("capture acquired")
	return &localAudio{stream: stream}, nil
}

type localAudio struct {
	stream   mediadevices.MediaStream
	stopOnce sync.Once
}

func (a *localAudio) Tracks() []webrtc.TrackLocal {
	audio := a.stream.GetAudioTracks()
	out := make([]webrtc.TrackLocal, 0, len(audio))
	for _, t := range audio {
		out = append(out, t)
	}
	return out
}

func (a *localAudio) Stop() {
	a.stopOnce.Do(func() {
		for _, t := range a.stream.GetTracks() {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("track close")
			}
		}
		log.Info().Str("module", "media").Msg("capture stopped")
	})
}
