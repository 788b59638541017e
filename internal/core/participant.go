package core

import (
	"context"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/signaling"
)

// Participant is one room member, local or remote. It exclusively owns its
// stream sessions; membership itself is owned by the RoomSession.
type Participant struct {
	room  *RoomSession
	id    domain.ParticipantID
	local bool

	mu       sync.Mutex
	streams  map[domain.StreamID]*StreamSession
	disposed bool
}

// newParticipant builds the member record, creating a session per declared
// stream descriptor. Receive flags default to true when absent.
func newParticipant(room *RoomSession, local bool, info signaling.ParticipantInfo) *Participant {
	p := &Participant{
		room:    room,
		id:      domain.ParticipantID(info.ID),
		local:   local,
		streams: make(map[domain.StreamID]*StreamSession),
	}
	for _, d := range info.Streams {
		opts := domain.ResolveStreamOptions(d.ID, d.RecvVideo, d.RecvAudio)
		p.AddStream(newStreamSession(room, false, opts))
	}
	log.Debug().Str("module", "core.participant").Str("id", info.ID).Bool("local", local).Int("streams", len(info.Streams)).Msg("participant created")
	return p
}

func (p *Participant) ID() domain.ParticipantID { return p.id }
func (p *Participant) IsLocal() bool            { return p.local }

// AddStream registers the session with this participant and with the
// room's flattened stream index. All registration goes through here so the
// two maps stay in sync.
func (p *Participant) AddStream(s *StreamSession) {
	s.setParticipant(p)
	p.mu.Lock()
	p.streams[s.ID()] = s
	p.mu.Unlock()
	p.room.indexStream(s)
}

// Streams returns a snapshot sorted by stream id.
func (p *Participant) Streams() []*StreamSession {
	p.mu.Lock()
	out := make([]*StreamSession, 0, len(p.streams))
	for _, s := range p.streams {
		out = append(out, s)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Participant) Stream(id domain.StreamID) (*StreamSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	return s, ok
}

// clearStreams disposes and unregisters every owned session while keeping
// the participant itself a room member (unpublish semantics).
func (p *Participant) clearStreams() {
	p.mu.Lock()
	streams := make([]*StreamSession, 0, len(p.streams))
	for _, s := range p.streams {
		streams = append(streams, s)
	}
	p.streams = make(map[domain.StreamID]*StreamSession)
	p.mu.Unlock()
	for _, s := range streams {
		p.room.unindexStream(s)
		s.Dispose()
	}
}

// Dispose releases every owned stream session exactly once. It does not
// mutate the parent room's membership map; the caller removes the entry
// separately.
func (p *Participant) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	streams := make([]*StreamSession, 0, len(p.streams))
	for _, s := range p.streams {
		streams = append(streams, s)
	}
	p.mu.Unlock()
	for _, s := range streams {
		s.Dispose()
	}
	log.Debug().Str("module", "core.participant").Str("id", string(p.id)).Msg("disposed")
}

// sendIceCandidate relays a locally gathered candidate for any of this
// participant's streams, tagged with the endpoint name.
func (p *Participant) sendIceCandidate(ci webrtc.ICECandidateInit) {
	req := signaling.IceCandidateRequest{
		EndpointName: string(p.id),
		Candidate:    ci.Candidate,
	}
	if ci.SDPMid != nil {
		req.SdpMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		req.SdpMLineIndex = *ci.SDPMLineIndex
	}
	if err := p.room.signaler.Call(context.Background(), signaling.MethodOnIceCandidate, req, nil); err != nil {
		log.Error().Str("module", "core.participant").Str("id", string(p.id)).Err(err).Msg("send candidate failed")
	}
}
