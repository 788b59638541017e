// Package core implements the room/participant/stream session state
// machine on top of the signaling protocol.
package core

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/signaling"
)

// RoomState is the session's connection state. A session is single-use: once
// Disconnected after a join it cannot be reconnected, build a new one.
type RoomState int

const (
	RoomDisconnected RoomState = iota
	RoomJoining
	RoomConnected
)

func (s RoomState) String() string {
	switch s {
	case RoomDisconnected:
		return "disconnected"
	case RoomJoining:
		return "joining"
	case RoomConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var ErrNotDisconnected = errors.New("room session already joining or connected")

// RoomSession coordinates the participant set and routes inbound
// notifications to the right participant/stream. It implements
// signaling.Events; all map mutation happens in its own handlers.
type RoomSession struct {
	name     domain.RoomName
	opts     domain.RoomOptions
	signaler Signaler
	media    MediaProvider
	peers    MediaFactory

	mu           sync.RWMutex
	state        RoomState
	participants map[domain.ParticipantID]*Participant
	streams      map[domain.GlobalID]*StreamSession
	local        *Participant

	events emitter[RoomEvent]
}

// NewRoomSession builds the session. The local participant exists
// immediately, before the network join completes.
func NewRoomSession(signaler Signaler, media MediaProvider, peers MediaFactory, opts domain.RoomOptions) *RoomSession {
	r := &RoomSession{
		name:         opts.Name,
		opts:         opts,
		signaler:     signaler,
		media:        media,
		peers:        peers,
		state:        RoomDisconnected,
		participants: make(map[domain.ParticipantID]*Participant),
		streams:      make(map[domain.GlobalID]*StreamSession),
	}
	r.local = newParticipant(r, true, signaling.ParticipantInfo{ID: string(opts.User)})
	r.participants[r.local.id] = r.local
	return r
}

func (r *RoomSession) Name() domain.RoomName { return r.name }

func (r *RoomSession) State() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *RoomSession) LocalParticipant() *Participant { return r.local }

// OnEvent registers a room-level listener.
func (r *RoomSession) OnEvent(l RoomListener) {
	r.events.subscribe(l)
}

func (r *RoomSession) emit(ev RoomEvent) {
	r.events.emit(ev)
}

// Participants returns a snapshot sorted by id, local participant included.
func (r *RoomSession) Participants() []*Participant {
	r.mu.RLock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *RoomSession) Participant(id domain.ParticipantID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return p, ok
}

// Streams returns a snapshot of the flattened stream index sorted by
// global id.
func (r *RoomSession) Streams() []*StreamSession {
	r.mu.RLock()
	out := make([]*StreamSession, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID() < out[j].GlobalID() })
	return out
}

func (r *RoomSession) Stream(id domain.GlobalID) (*StreamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

func (r *RoomSession) indexStream(s *StreamSession) {
	gid := s.GlobalID()
	r.mu.Lock()
	r.streams[gid] = s
	r.mu.Unlock()
}

func (r *RoomSession) unindexStream(s *StreamSession) {
	gid := s.GlobalID()
	r.mu.Lock()
	delete(r.streams, gid)
	r.mu.Unlock()
}

// NewLocalStream creates a local session owned by the local participant and
// registers it with the room.
func (r *RoomSession) NewLocalStream(opts domain.StreamOptions) *StreamSession {
	s := newStreamSession(r, true, opts)
	r.local.AddStream(s)
	return s
}

// Connect joins the room. On success every pre-existing member is
// materialized, received streams are auto-subscribed when configured, and a
// single room-connected event carries the aggregate. On failure an
// error-room event fires and the session stays Disconnected; no retry.
func (r *RoomSession) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RoomDisconnected {
		r.mu.Unlock()
		return ErrNotDisconnected
	}
	r.state = RoomJoining
	r.mu.Unlock()

	req := signaling.JoinRoomRequest{User: string(r.opts.User), Room: string(r.name)}
	var resp signaling.JoinRoomResponse
	if err := r.signaler.Call(ctx, signaling.MethodJoinRoom, req, &resp); err != nil {
		r.mu.Lock()
		r.state = RoomDisconnected
		r.mu.Unlock()
		log.Error().Str("module", "core.room").Str("room", string(r.name)).Err(err).Msg("join failed")
		r.emit(RoomErrorEvent{Err: err})
		return err
	}

	r.mu.Lock()
	r.state = RoomConnected
	r.mu.Unlock()

	ev := RoomConnectedEvent{Participants: []*Participant{r.local}}
	for _, info := range resp.Value {
		if info.ID == string(r.local.ID()) {
			continue
		}
		p := newParticipant(r, false, info)
		r.mu.Lock()
		r.participants[p.ID()] = p
		r.mu.Unlock()
		ev.Participants = append(ev.Participants, p)
		for _, s := range p.Streams() {
			ev.Streams = append(ev.Streams, s)
			if r.opts.SubscribeToStreams {
				if err := s.Subscribe(ctx); err != nil {
					log.Error().Str("module", "core.room").Str("stream", string(s.GlobalID())).Err(err).Msg("auto-subscribe failed")
				}
			}
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Int("participants", len(ev.Participants)).Msg("connected")
	r.emit(ev)
	return nil
}

// OnParticipantJoined reuses an already-known record so in-flight stream
// state is never discarded by a duplicate join.
func (r *RoomSession) OnParticipantJoined(info signaling.ParticipantInfo) {
	id := domain.ParticipantID(info.ID)
	r.mu.Lock()
	p, ok := r.participants[id]
	r.mu.Unlock()
	if !ok {
		p = newParticipant(r, false, info)
		r.mu.Lock()
		r.participants[id] = p
		r.mu.Unlock()
		log.Info().Str("module", "core.room").Str("id", info.ID).Msg("participant joined")
	} else {
		log.Info().Str("module", "core.room").Str("id", info.ID).Msg("participant joined with known id, record reused")
	}
	r.emit(ParticipantJoinedEvent{Participant: p})
}

// OnParticipantPublished replaces the stored record with a freshly parsed
// one, carrying forward any already-known stream sessions.
func (r *RoomSession) OnParticipantPublished(info signaling.ParticipantInfo) {
	id := domain.ParticipantID(info.ID)
	incoming := newParticipant(r, false, info)

	r.mu.Lock()
	existing, known := r.participants[id]
	r.participants[id] = incoming
	r.mu.Unlock()
	if known {
		reconcile(incoming, existing)
	} else {
		log.Info().Str("module", "core.room").Str("id", info.ID).Msg("publisher was not in participants list")
	}

	r.emit(ParticipantPublishedEvent{Participant: incoming})

	if !r.opts.SubscribeToStreams {
		return
	}
	for _, s := range incoming.Streams() {
		if err := s.Subscribe(context.Background()); err != nil {
			log.Error().Str("module", "core.room").Str("stream", string(s.GlobalID())).Err(err).Msg("auto-subscribe failed")
		}
		r.emit(StreamAddedEvent{Stream: s})
	}
}

// reconcile merges a replaced participant record with its predecessor.
// Rule: a session present in both keeps the predecessor's (already
// negotiated) instance; sessions only the predecessor knew are carried
// over. Nothing is silently dropped.
func reconcile(incoming, existing *Participant) {
	for _, s := range existing.Streams() {
		if dup, ok := incoming.Stream(s.ID()); ok {
			dup.Dispose()
		}
		incoming.AddStream(s)
	}
}

// OnParticipantUnpublished drops the member's media but keeps the
// membership: an unpublished participant is still in the room.
func (r *RoomSession) OnParticipantUnpublished(ref signaling.ParticipantRef) {
	r.mu.RLock()
	p, ok := r.participants[domain.ParticipantID(ref.Name)]
	r.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "core.room").Str("id", ref.Name).Msg("unpublished notification for unknown participant")
		return
	}
	r.emit(ParticipantUnpublishedEvent{Participant: p})
	for _, s := range p.Streams() {
		r.emit(StreamRemovedEvent{Stream: s})
	}
	p.clearStreams()
}

func (r *RoomSession) OnParticipantLeft(ref signaling.ParticipantRef) {
	id := domain.ParticipantID(ref.Name)
	r.mu.Lock()
	p, ok := r.participants[id]
	if ok {
		delete(r.participants, id)
	}
	r.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "core.room").Str("id", ref.Name).Msg("left notification for unknown participant")
		return
	}
	r.emit(ParticipantLeftEvent{Participant: p})
	for _, s := range p.Streams() {
		r.emit(StreamRemovedEvent{Stream: s})
		r.unindexStream(s)
	}
	p.Dispose()
}

// OnParticipantEvicted only surfaces the event; the consumer decides
// whether to terminate the session.
func (r *RoomSession) OnParticipantEvicted() {
	r.emit(ParticipantEvictedEvent{Participant: r.local})
}

func (r *RoomSession) OnMessageReceived(m signaling.MessageNotice) {
	if m.User == "" {
		log.Warn().Str("module", "core.room").Str("room", m.Room).Msg("message without user dropped")
		return
	}
	r.emit(NewMessageEvent{Message: domain.ChatMessage{
		Room:    domain.RoomName(m.Room),
		User:    m.User,
		Message: m.Message,
	}})
}

// OnIceCandidate applies an inbound candidate to the named endpoint's
// streams. The protocol does not say which stream the candidate targets, so
// the fan-out policy is configured per room.
func (r *RoomSession) OnIceCandidate(n signaling.IceCandidateNotice) {
	r.mu.RLock()
	p, ok := r.participants[domain.ParticipantID(n.EndpointName)]
	r.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "core.room").Str("endpoint", n.EndpointName).Msg("candidate for unknown endpoint dropped")
		return
	}

	ci := webrtc.ICECandidateInit{Candidate: n.Candidate}
	if n.SdpMid != "" {
		mid := n.SdpMid
		ci.SDPMid = &mid
	}
	idx := n.SdpMLineIndex
	ci.SDPMLineIndex = &idx

	switch r.opts.CandidateTarget {
	case domain.CandidateWebcamOnly:
		if s, ok := p.Stream(domain.DefaultStreamID); ok {
			s.AddICECandidate(ci)
		} else {
			log.Warn().Str("module", "core.room").Str("endpoint", n.EndpointName).Msg("no webcam stream for candidate")
		}
	default:
		for _, s := range p.Streams() {
			s.AddICECandidate(ci)
		}
	}
}

func (r *RoomSession) OnRoomClosed(n signaling.RoomClosedNotice) {
	if n.Room == "" {
		log.Warn().Str("module", "core.room").Msg("roomClosed without room name dropped")
		return
	}
	r.emit(RoomClosedEvent{Room: domain.RoomName(n.Room)})
}

func (r *RoomSession) OnMediaError(n signaling.MediaErrorNotice) {
	if n.Error == "" {
		log.Warn().Str("module", "core.room").Msg("mediaError without error dropped")
		return
	}
	r.emit(MediaErrorEvent{Error: n.Error})
}

// Leave tears the session down. Unless forced, a best-effort leaveRoom
// request is sent first; participants are disposed regardless of its
// outcome. Forced leave skips the network entirely (the server already
// dropped us).
func (r *RoomSession) Leave(ctx context.Context, forced bool) {
	r.mu.RLock()
	connected := r.state == RoomConnected
	r.mu.RUnlock()
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Bool("forced", forced).Msg("leaving")

	if connected && !forced {
		if err := r.signaler.Call(ctx, signaling.MethodLeaveRoom, nil, nil); err != nil {
			log.Error().Str("module", "core.room").Err(err).Msg("leaveRoom failed")
		}
	}

	r.mu.Lock()
	participants := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	r.participants = make(map[domain.ParticipantID]*Participant)
	r.streams = make(map[domain.GlobalID]*StreamSession)
	r.state = RoomDisconnected
	r.mu.Unlock()

	for _, p := range participants {
		p.Dispose()
	}
}

// Disconnect removes the participant owning the given stream, then informs
// the server: unpublishVideo for the own media, unsubscribeFromVideo for a
// remote sender. Request failures are only logged.
func (r *RoomSession) Disconnect(ctx context.Context, stream *StreamSession) error {
	p := stream.Participant()
	if p == nil {
		log.Error().Str("module", "core.room").Str("stream", string(stream.GlobalID())).Msg("stream to disconnect has no participant")
		return errors.New("stream has no participant")
	}

	gid := stream.GlobalID()
	r.mu.Lock()
	delete(r.participants, p.ID())
	r.mu.Unlock()
	for _, s := range p.Streams() {
		r.unindexStream(s)
	}
	p.Dispose()

	if p.IsLocal() {
		if err := r.signaler.Call(ctx, signaling.MethodUnpublishVideo, nil, nil); err != nil {
			log.Error().Str("module", "core.room").Err(err).Msg("unpublishVideo failed")
		}
		return nil
	}
	req := signaling.UnsubscribeRequest{Sender: string(gid)}
	if err := r.signaler.Call(ctx, signaling.MethodUnsubscribe, req, nil); err != nil {
		log.Error().Str("module", "core.room").Str("sender", string(gid)).Err(err).Msg("unsubscribeFromVideo failed")
	}
	return nil
}
