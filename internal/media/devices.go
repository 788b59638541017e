// Package media acquires local capture devices and provides display sinks
// for inbound tracks.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"

	// Register the capture adapters.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

const videoBitRate = 500_000

// Devices implements core.MediaProvider on top of pion/mediadevices.
type Devices struct {
	selector *mediadevices.CodecSelector
}

func NewDevices() (*Devices, error) {
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vp8Params.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Devices{selector: selector}, nil
}

// Populate registers the capture codecs with a media engine so peer
// connections can bind the resulting tracks.
func (d *Devices) Populate(engine *webrtc.MediaEngine) {
	d.selector.Populate(engine)
}

func (d *Devices) GetUserMedia(c core.MediaConstraints) (core.LocalMedia, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			if c.MaxWidth > 0 {
				mtc.Width = prop.IntRanged{Max: c.MaxWidth, Ideal: c.MaxWidth}
			}
			if c.FrameRate > 0 {
				mtc.FrameRate = prop.FloatRanged{Ideal: c.FrameRate}
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(mtc *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	log.Info().Str("module", "media").Int("tracks", len(stream.GetTracks())).Msg("local media acquired")
	return &localMedia{stream: stream}, nil
}

type localMedia struct {
	stream mediadevices.MediaStream
	once   sync.Once
}

func (m *localMedia) Tracks() []webrtc.TrackLocal {
	tracks := m.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (m *localMedia) Stop() {
	m.once.Do(func() {
		for _, t := range m.stream.GetTracks() {
			if err := t.Close(); err != nil {
				log.Warn().Str("module", "media").Err(err).Msg("track close")
			}
		}
	})
}
