package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// StatsSink drains a remote track and counts what arrives. It is the
// non-graphical stand-in for a video element: attaching it is what keeps
// inbound media flowing.
type StatsSink struct {
	id string

	mu     sync.Mutex
	done   chan struct{}
	tracks []*webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewStatsSink() *StatsSink {
	return &StatsSink{id: uuid.NewString()}
}

func (s *StatsSink) ID() string { return s.id }

func (s *StatsSink) Packets() uint64 { return s.packets.Load() }
func (s *StatsSink) Bytes() uint64   { return s.bytes.Load() }

func (s *StatsSink) Attach(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	done := s.done
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	log.Debug().Str("module", "media.sink").Str("sink", s.id).Str("kind", track.Kind().String()).Msg("attached")
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			pkt, _, err := track.ReadRTP()
			if err != nil {
				log.Debug().Str("module", "media.sink").Str("sink", s.id).Err(err).Msg("track ended")
				return
			}
			s.packets.Add(1)
			s.bytes.Add(uint64(pkt.MarshalSize()))
		}
	}()
}

// Detach stops counting. An expired read deadline kicks the drain goroutine
// out of a blocked ReadRTP.
func (s *StatsSink) Detach() {
	s.mu.Lock()
	done := s.done
	tracks := s.tracks
	s.done = nil
	s.tracks = nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	for _, track := range tracks {
		if err := track.SetReadDeadline(time.Now()); err != nil {
			log.Warn().Str("module", "media.sink").Str("sink", s.id).Err(err).Msg("set read deadline")
		}
	}
}
