package core

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

// RoomEvent is the tagged union of room-level events. Listeners receive
// events synchronously, in registration order, on the goroutine that
// produced them.
type RoomEvent interface{ roomEvent() }

// RoomConnectedEvent aggregates the room state right after a successful
// join: every participant including the local one, and every remote stream.
type RoomConnectedEvent struct {
	Participants []*Participant
	Streams      []*StreamSession
}

// RoomErrorEvent reports a failed join.
type RoomErrorEvent struct{ Err error }

// RoomClosedEvent reports that the server shut the whole room down.
type RoomClosedEvent struct{ Room domain.RoomName }

// MediaErrorEvent reports a server-side media failure.
type MediaErrorEvent struct{ Error string }

type ParticipantJoinedEvent struct{ Participant *Participant }

type ParticipantPublishedEvent struct{ Participant *Participant }

type ParticipantUnpublishedEvent struct{ Participant *Participant }

type ParticipantLeftEvent struct{ Participant *Participant }

// ParticipantEvictedEvent references the local participant; the consumer
// decides whether to tear the session down.
type ParticipantEvictedEvent struct{ Participant *Participant }

type NewMessageEvent struct{ Message domain.ChatMessage }

type StreamAddedEvent struct{ Stream *StreamSession }

type StreamRemovedEvent struct{ Stream *StreamSession }

type StreamPublishedEvent struct{ Stream *StreamSession }

type StreamUnpublishedEvent struct{ Stream *StreamSession }

type StreamSubscribedEvent struct{ Stream *StreamSession }

func (RoomConnectedEvent) roomEvent()          {}
func (RoomErrorEvent) roomEvent()              {}
func (RoomClosedEvent) roomEvent()             {}
func (MediaErrorEvent) roomEvent()             {}
func (ParticipantJoinedEvent) roomEvent()      {}
func (ParticipantPublishedEvent) roomEvent()   {}
func (ParticipantUnpublishedEvent) roomEvent() {}
func (ParticipantLeftEvent) roomEvent()        {}
func (ParticipantEvictedEvent) roomEvent()     {}
func (NewMessageEvent) roomEvent()             {}
func (StreamAddedEvent) roomEvent()            {}
func (StreamRemovedEvent) roomEvent()          {}
func (StreamPublishedEvent) roomEvent()        {}
func (StreamUnpublishedEvent) roomEvent()      {}
func (StreamSubscribedEvent) roomEvent()       {}

// StreamEvent is the per-session union for media-access outcomes.
type StreamEvent interface{ streamEvent() }

type AccessAcceptedEvent struct{ Stream *StreamSession }

type AccessDeniedEvent struct {
	Stream *StreamSession
	Err    error
}

func (AccessAcceptedEvent) streamEvent() {}
func (AccessDeniedEvent) streamEvent()   {}

type (
	RoomListener   func(RoomEvent)
	StreamListener func(StreamEvent)
)

// emitter delivers events to every listener synchronously, in registration
// order.
type emitter[E any] struct {
	mu        sync.Mutex
	listeners []func(E)
}

func (e *emitter[E]) subscribe(fn func(E)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *emitter[E]) emit(ev E) {
	e.mu.Lock()
	listeners := make([]func(E), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
