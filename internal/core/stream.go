package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/signaling"
)

// NegotiationState tracks one stream's SDP exchange.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateAwaitingLocalMedia
	StateOfferGenerated
	StateAnswerApplied
	StateDisposed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting-local-media"
	case StateOfferGenerated:
		return "offer-generated"
	case StateAnswerApplied:
		return "answer-applied"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

var (
	ErrStreamDisposed    = errors.New("stream session disposed")
	ErrNotLocalStream    = errors.New("operation requires a local stream")
	ErrNoLocalMedia      = errors.New("local media not acquired")
	ErrAlreadyNegotiated = errors.New("stream session already has a peer connection")
)

// StreamSession represents one local-or-remote audio/video flow. It owns at
// most one peer connection and drives its offer/answer exchange and ICE
// relay.
type StreamSession struct {
	room  *RoomSession
	id    domain.StreamID
	local bool

	recvVideo bool
	recvAudio bool

	mu           sync.Mutex
	participant  *Participant
	state        NegotiationState
	showMyRemote bool
	media        LocalMedia
	conn         MediaConnection
	sinks        []MediaSink
	remoteTracks []*webrtc.TrackRemote
	// candidates that arrived before the answer was applied
	pendingCandidates []webrtc.ICECandidateInit

	events emitter[StreamEvent]
}

func newStreamSession(room *RoomSession, local bool, opts domain.StreamOptions) *StreamSession {
	id := opts.ID
	if id == "" {
		id = domain.DefaultStreamID
	}
	return &StreamSession{
		room:         room,
		id:           id,
		local:        local,
		recvVideo:    opts.RecvVideo,
		recvAudio:    opts.RecvAudio,
		showMyRemote: opts.Loopback,
		state:        StateIdle,
	}
}

func (s *StreamSession) ID() domain.StreamID { return s.id }
func (s *StreamSession) IsLocal() bool       { return s.local }
func (s *StreamSession) RecvVideo() bool     { return s.recvVideo }
func (s *StreamSession) RecvAudio() bool     { return s.recvAudio }

func (s *StreamSession) State() NegotiationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Participant returns the owning participant, nil for an orphan session.
func (s *StreamSession) Participant() *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

func (s *StreamSession) setParticipant(p *Participant) {
	s.mu.Lock()
	s.participant = p
	s.mu.Unlock()
}

// GlobalID addresses this stream across the protocol.
func (s *StreamSession) GlobalID() domain.GlobalID {
	s.mu.Lock()
	p := s.participant
	s.mu.Unlock()
	if p != nil {
		return domain.ComposeGlobalID(p.ID(), s.id)
	}
	return domain.OrphanGlobalID(s.id)
}

// SubscribeToMyRemote requests loopback display of the own published
// stream. Must be called before Publish.
func (s *StreamSession) SubscribeToMyRemote() {
	s.mu.Lock()
	s.showMyRemote = true
	s.mu.Unlock()
}

func (s *StreamSession) Loopback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showMyRemote
}

// OnEvent registers a listener for media-access outcomes.
func (s *StreamSession) OnEvent(l StreamListener) {
	s.events.subscribe(l)
}

// AttachSink registers a display sink. Tracks already received are attached
// immediately.
func (s *StreamSession) AttachSink(sink MediaSink) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.sinks = append(s.sinks, sink)
	tracks := make([]*webrtc.TrackRemote, len(s.remoteTracks))
	copy(tracks, s.remoteTracks)
	s.mu.Unlock()
	for _, t := range tracks {
		sink.Attach(t)
	}
}

// AcquireLocalMedia requests camera/microphone capture. On success an
// access-accepted event fires; on failure access-denied fires and the
// session stays usable only as a placeholder.
func (s *StreamSession) AcquireLocalMedia(constraints MediaConstraints) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrStreamDisposed
	}
	if !s.local {
		s.mu.Unlock()
		return ErrNotLocalStream
	}
	s.state = StateAwaitingLocalMedia
	s.mu.Unlock()

	media, err := s.room.media.GetUserMedia(constraints)

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		if media != nil {
			media.Stop()
		}
		return ErrStreamDisposed
	}
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		log.Error().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("access denied")
		s.events.emit(AccessDeniedEvent{Stream: s, Err: err})
		return err
	}
	s.media = media
	s.mu.Unlock()
	s.events.emit(AccessAcceptedEvent{Stream: s})
	return nil
}

// Publish offers the local media to the server and applies the returned
// answer. Valid only after AcquireLocalMedia succeeded. On failure the
// session is left unpublished; there is no automatic retry.
func (s *StreamSession) Publish(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrStreamDisposed
	}
	if !s.local {
		s.mu.Unlock()
		return ErrNotLocalStream
	}
	if s.media == nil {
		s.mu.Unlock()
		return ErrNoLocalMedia
	}
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyNegotiated
	}
	mode := MediaSendOnly
	if s.showMyRemote {
		mode = MediaSendRecv
	}
	media := s.media
	s.mu.Unlock()

	offer, err := s.openConnection(ConnectOptions{Mode: mode}, media)
	if err != nil {
		return err
	}

	var resp signaling.SdpAnswerResponse
	req := signaling.PublishVideoRequest{SdpOffer: offer.SDP, DoLoopback: s.Loopback()}
	if err := s.room.signaler.Call(ctx, signaling.MethodPublishVideo, req, &resp); err != nil {
		log.Error().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("publishVideo failed")
		return err
	}
	if err := s.ProcessAnswer(resp.SdpAnswer); err != nil {
		return err
	}
	s.room.emit(StreamPublishedEvent{Stream: s})
	return nil
}

// Subscribe asks the server for this stream's media and applies the
// returned answer. Subscribing to the own stream is a no-op: without
// loopback it is suppressed, with loopback the media already arrives on the
// publish connection.
func (s *StreamSession) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrStreamDisposed
	}
	if s.local {
		loopback := s.showMyRemote
		s.mu.Unlock()
		log.Debug().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Bool("loopback", loopback).Msg("self-subscribe suppressed")
		return nil
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	opts := ConnectOptions{Mode: MediaRecvOnly, RecvAudio: s.recvAudio, RecvVideo: s.recvVideo}
	s.mu.Unlock()

	offer, err := s.openConnection(opts, nil)
	if err != nil {
		return err
	}

	var resp signaling.SdpAnswerResponse
	req := signaling.ReceiveVideoRequest{Sender: string(s.GlobalID()), SdpOffer: offer.SDP}
	if err := s.room.signaler.Call(ctx, signaling.MethodReceiveVideo, req, &resp); err != nil {
		log.Error().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("receiveVideoFrom failed")
		return err
	}
	return s.ProcessAnswer(resp.SdpAnswer)
}

// openConnection builds the peer connection, wires its callbacks, attaches
// local tracks if any and generates the offer.
func (s *StreamSession) openConnection(opts ConnectOptions, media LocalMedia) (webrtc.SessionDescription, error) {
	conn, err := s.room.peers.NewConnection(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}
	conn.OnICECandidate(s.relayCandidate)
	conn.OnTrack(s.onRemoteTrack)

	if media != nil {
		for _, track := range media.Tracks() {
			if _, err := conn.AddLocalTrack(track); err != nil {
				conn.Close()
				return webrtc.SessionDescription{}, fmt.Errorf("add local track: %w", err)
			}
		}
	}

	offer, err := conn.CreateOffer()
	if err != nil {
		conn.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		conn.Close()
		return webrtc.SessionDescription{}, ErrStreamDisposed
	}
	s.conn = conn
	s.state = StateOfferGenerated
	s.mu.Unlock()
	return offer, nil
}

// ProcessAnswer applies the remote description to the open peer connection.
// A pending answer arriving after dispose is a no-op.
func (s *StreamSession) ProcessAnswer(sdp string) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		log.Debug().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Msg("answer after dispose ignored")
		return ErrStreamDisposed
	}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream %s: no open peer connection for answer", s.GlobalID())
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := conn.ApplyAnswer(answer); err != nil {
		log.Error().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("apply answer failed")
		return err
	}

	s.mu.Lock()
	if s.state != StateDisposed {
		s.state = StateAnswerApplied
	}
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, ci := range pending {
		if err := conn.AddICECandidate(ci); err != nil {
			log.Warn().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("queued candidate rejected")
		}
	}

	if !s.local || s.Loopback() {
		s.room.emit(StreamSubscribedEvent{Stream: s})
	}
	return nil
}

// AddICECandidate applies an inbound candidate, queueing it while the
// negotiation has not produced an applied answer yet.
func (s *StreamSession) AddICECandidate(ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		log.Debug().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Msg("candidate after dispose dropped")
		return
	}
	if s.conn == nil || s.state != StateAnswerApplied {
		s.pendingCandidates = append(s.pendingCandidates, ci)
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()
	if err := conn.AddICECandidate(ci); err != nil {
		log.Warn().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("add candidate failed")
	}
}

// relayCandidate forwards a locally gathered candidate to the server,
// tagged with the owning endpoint.
func (s *StreamSession) relayCandidate(ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	disposed := s.state == StateDisposed
	p := s.participant
	s.mu.Unlock()
	if disposed || p == nil {
		return
	}
	p.sendIceCandidate(ci)
}

func (s *StreamSession) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.remoteTracks = append(s.remoteTracks, track)
	sinks := make([]MediaSink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	log.Info().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Str("kind", track.Kind().String()).Msg("remote track")
	for _, sink := range sinks {
		sink.Attach(track)
	}
}

// Unpublish tears the session down and best-effort informs the server; a
// request failure is only logged.
func (s *StreamSession) Unpublish(ctx context.Context) error {
	if !s.local {
		return ErrNotLocalStream
	}
	s.Dispose()
	if err := s.room.signaler.Call(ctx, signaling.MethodUnpublishVideo, nil, nil); err != nil {
		log.Error().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Err(err).Msg("unpublishVideo failed")
		return nil
	}
	s.room.emit(StreamUnpublishedEvent{Stream: s})
	return nil
}

// Dispose stops local media, closes the peer connection and detaches every
// sink. Terminal and safe to call more than once.
func (s *StreamSession) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	media := s.media
	conn := s.conn
	sinks := s.sinks
	s.media = nil
	s.conn = nil
	s.sinks = nil
	s.remoteTracks = nil
	s.pendingCandidates = nil
	s.mu.Unlock()

	if media != nil {
		media.Stop()
	}
	if conn != nil {
		conn.Close()
	}
	for _, sink := range sinks {
		sink.Detach()
	}
	log.Debug().Str("module", "core.stream").Str("stream", string(s.GlobalID())).Msg("disposed")
}
