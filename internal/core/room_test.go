package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/signaling"
)

func boolPtr(b bool) *bool { return &b }

func defaultOpts() domain.RoomOptions {
	return domain.NewRoomOptions("demo", "alice")
}

func TestConnectSuccess(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{
		Value: []signaling.ParticipantInfo{
			{ID: "alice"},
			{ID: "bob", Streams: []signaling.StreamDescriptor{{ID: "webcam"}}},
		},
	}
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}

	require.NoError(t, tr.room.Connect(context.Background()))
	assert.Equal(t, RoomConnected, tr.room.State())

	events := tr.events.all()
	require.Len(t, events, 2)
	// auto-subscribe negotiated bob's stream before the aggregate fired
	assert.IsType(t, StreamSubscribedEvent{}, events[0])
	connected, ok := events[1].(RoomConnectedEvent)
	require.True(t, ok)
	require.Len(t, connected.Participants, 2)
	assert.Equal(t, domain.ParticipantID("alice"), connected.Participants[0].ID())
	assert.True(t, connected.Participants[0].IsLocal())
	assert.Equal(t, domain.ParticipantID("bob"), connected.Participants[1].ID())
	require.Len(t, connected.Streams, 1)

	s, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)
	assert.Equal(t, StateAnswerApplied, s.State())

	params, ok := tr.signaler.lastParams(signaling.MethodReceiveVideo)
	require.True(t, ok)
	assert.Equal(t, "bob_webcam", params.(signaling.ReceiveVideoRequest).Sender)
}

func TestConnectJoinError(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	joinErr := errors.New("room is full")
	tr.signaler.errs[signaling.MethodJoinRoom] = joinErr

	err := tr.room.Connect(context.Background())
	require.ErrorIs(t, err, joinErr)
	assert.Equal(t, RoomDisconnected, tr.room.State())

	events := tr.events.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(RoomErrorEvent)
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, joinErr)
}

func TestConnectTwice(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{}
	require.NoError(t, tr.room.Connect(context.Background()))
	assert.ErrorIs(t, tr.room.Connect(context.Background()), ErrNotDisconnected)
}

func TestConnectSkipsAutoSubscribeWhenDisabled(t *testing.T) {
	opts := defaultOpts()
	opts.SubscribeToStreams = false
	tr := newTestRoom(opts)
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{
		Value: []signaling.ParticipantInfo{
			{ID: "bob", Streams: []signaling.StreamDescriptor{{ID: "webcam"}}},
		},
	}

	require.NoError(t, tr.room.Connect(context.Background()))
	assert.Equal(t, 0, tr.factory.count())
	assert.NotContains(t, tr.signaler.methods(), signaling.MethodReceiveVideo)
}

func TestParticipantJoinedReusesKnownRecord(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnParticipantJoined(signaling.ParticipantInfo{ID: "bob"})
	first, ok := tr.room.Participant("bob")
	require.True(t, ok)

	tr.room.OnParticipantJoined(signaling.ParticipantInfo{ID: "bob"})
	second, ok := tr.room.Participant("bob")
	require.True(t, ok)
	assert.Same(t, first, second)

	events := tr.events.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.IsType(t, ParticipantJoinedEvent{}, ev)
	}
}

func TestParticipantPublishedMergesStreams(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{
		Value: []signaling.ParticipantInfo{
			{ID: "bob", Streams: []signaling.StreamDescriptor{{ID: "webcam"}}},
		},
	}
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	require.NoError(t, tr.room.Connect(context.Background()))

	negotiated, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)
	require.Equal(t, StateAnswerApplied, negotiated.State())
	tr.events.reset()

	tr.room.OnParticipantPublished(signaling.ParticipantInfo{
		ID: "bob",
		Streams: []signaling.StreamDescriptor{
			{ID: "webcam"},
			{ID: "screen", RecvAudio: boolPtr(false)},
		},
	})

	bob, ok := tr.room.Participant("bob")
	require.True(t, ok)
	require.Len(t, bob.Streams(), 2)

	// the already-negotiated session survived the record replacement
	kept, ok := bob.Stream("webcam")
	require.True(t, ok)
	assert.Same(t, negotiated, kept)
	assert.Equal(t, StateAnswerApplied, kept.State())

	screen, ok := bob.Stream("screen")
	require.True(t, ok)
	assert.False(t, screen.RecvAudio())
	assert.Equal(t, StateAnswerApplied, screen.State())

	indexed, ok := tr.room.Stream("bob_screen")
	require.True(t, ok)
	assert.Same(t, screen, indexed)
}

func TestParticipantPublishedUnknownPublisher(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}

	tr.room.OnParticipantPublished(signaling.ParticipantInfo{
		ID:      "carol",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}},
	})

	carol, ok := tr.room.Participant("carol")
	require.True(t, ok)
	require.Len(t, carol.Streams(), 1)
	_, ok = tr.room.Stream("carol_webcam")
	assert.True(t, ok)
}

func TestParticipantUnpublishedKeepsMembership(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	tr.room.OnParticipantPublished(signaling.ParticipantInfo{
		ID:      "bob",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}},
	})
	stream, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)
	tr.events.reset()

	tr.room.OnParticipantUnpublished(signaling.ParticipantRef{Name: "bob"})

	bob, ok := tr.room.Participant("bob")
	require.True(t, ok)
	assert.Empty(t, bob.Streams())
	_, ok = tr.room.Stream("bob_webcam")
	assert.False(t, ok)
	assert.Equal(t, StateDisposed, stream.State())

	events := tr.events.all()
	require.Len(t, events, 2)
	assert.IsType(t, ParticipantUnpublishedEvent{}, events[0])
	assert.IsType(t, StreamRemovedEvent{}, events[1])
}

func TestParticipantUnpublishedUnknownIgnored(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnParticipantUnpublished(signaling.ParticipantRef{Name: "ghost"})
	assert.Empty(t, tr.events.all())
}

func TestParticipantLeftRemovesAndDisposes(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	tr.room.OnParticipantPublished(signaling.ParticipantInfo{
		ID:      "bob",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}},
	})
	stream, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)
	conn := tr.factory.last()
	require.NotNil(t, conn)
	tr.events.reset()

	tr.room.OnParticipantLeft(signaling.ParticipantRef{Name: "bob"})

	_, ok = tr.room.Participant("bob")
	assert.False(t, ok)
	_, ok = tr.room.Stream("bob_webcam")
	assert.False(t, ok)
	assert.Equal(t, StateDisposed, stream.State())
	assert.Equal(t, 1, conn.closedCount())

	events := tr.events.all()
	require.Len(t, events, 2)
	assert.IsType(t, ParticipantLeftEvent{}, events[0])
	assert.IsType(t, StreamRemovedEvent{}, events[1])
}

func TestParticipantLeftUnknownIgnored(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnParticipantLeft(signaling.ParticipantRef{Name: "ghost"})
	assert.Empty(t, tr.events.all())
}

func TestParticipantEvicted(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnParticipantEvicted()
	events := tr.events.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(ParticipantEvictedEvent)
	require.True(t, ok)
	assert.Same(t, tr.room.LocalParticipant(), ev.Participant)
}

func TestMessageReceived(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnMessageReceived(signaling.MessageNotice{Room: "demo", User: "bob", Message: "hi"})

	events := tr.events.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(NewMessageEvent)
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("demo"), ev.Message.Room)
	assert.Equal(t, "bob", ev.Message.User)
	assert.Equal(t, "hi", ev.Message.Message)
}

func TestMessageWithoutUserDropped(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnMessageReceived(signaling.MessageNotice{Room: "demo", Message: "hi"})
	assert.Empty(t, tr.events.all())
}

func TestIceCandidateQueuedUntilAnswer(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	tr.room.OnParticipantJoined(signaling.ParticipantInfo{
		ID:      "bob",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}},
	})

	// nothing negotiated yet: the candidate must wait
	tr.room.OnIceCandidate(signaling.IceCandidateNotice{
		EndpointName: "bob", Candidate: "candidate:1", SdpMid: "0",
	})

	bob, ok := tr.room.Participant("bob")
	require.True(t, ok)
	stream, ok := bob.Stream("webcam")
	require.True(t, ok)
	require.NoError(t, stream.Subscribe(context.Background()))

	conn := tr.factory.last()
	require.NotNil(t, conn)
	applied := conn.appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, "candidate:1", applied[0].Candidate)
	require.NotNil(t, applied[0].SDPMid)
	assert.Equal(t, "0", *applied[0].SDPMid)

	// negotiated now: the next candidate goes straight through
	tr.room.OnIceCandidate(signaling.IceCandidateNotice{
		EndpointName: "bob", Candidate: "candidate:2",
	})
	assert.Len(t, conn.appliedCandidates(), 2)
}

func TestIceCandidateUnknownEndpointDropped(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnIceCandidate(signaling.IceCandidateNotice{EndpointName: "ghost", Candidate: "candidate:1"})
	assert.Empty(t, tr.events.all())
}

func TestIceCandidateWebcamOnlyPolicy(t *testing.T) {
	opts := defaultOpts()
	opts.SubscribeToStreams = false
	opts.CandidateTarget = domain.CandidateWebcamOnly
	tr := newTestRoom(opts)
	tr.room.OnParticipantJoined(signaling.ParticipantInfo{
		ID:      "bob",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}, {ID: "screen"}},
	})
	bob, ok := tr.room.Participant("bob")
	require.True(t, ok)
	webcam, _ := bob.Stream("webcam")
	screen, _ := bob.Stream("screen")

	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	require.NoError(t, webcam.Subscribe(context.Background()))
	webcamConn := tr.factory.last()
	require.NoError(t, screen.Subscribe(context.Background()))
	screenConn := tr.factory.last()

	tr.room.OnIceCandidate(signaling.IceCandidateNotice{EndpointName: "bob", Candidate: "candidate:1"})
	assert.Len(t, webcamConn.appliedCandidates(), 1)
	assert.Empty(t, screenConn.appliedCandidates())
}

func TestRoomClosed(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnRoomClosed(signaling.RoomClosedNotice{Room: "demo"})
	events := tr.events.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(RoomClosedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.RoomName("demo"), ev.Room)

	tr.events.reset()
	tr.room.OnRoomClosed(signaling.RoomClosedNotice{})
	assert.Empty(t, tr.events.all())
}

func TestMediaErrorWithoutPayloadDropped(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.room.OnMediaError(signaling.MediaErrorNotice{})
	assert.Empty(t, tr.events.all())

	tr.room.OnMediaError(signaling.MediaErrorNotice{Error: "pipeline broken"})
	events := tr.events.all()
	require.Len(t, events, 1)
	ev, ok := events[0].(MediaErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "pipeline broken", ev.Error)
}

func TestLeaveGraceful(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{
		Value: []signaling.ParticipantInfo{
			{ID: "bob", Streams: []signaling.StreamDescriptor{{ID: "webcam"}}},
		},
	}
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	require.NoError(t, tr.room.Connect(context.Background()))
	stream, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)

	tr.room.Leave(context.Background(), false)

	assert.Contains(t, tr.signaler.methods(), signaling.MethodLeaveRoom)
	assert.Equal(t, RoomDisconnected, tr.room.State())
	assert.Empty(t, tr.room.Participants())
	assert.Empty(t, tr.room.Streams())
	assert.Equal(t, StateDisposed, stream.State())
}

func TestLeaveForcedSkipsRequest(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodJoinRoom] = signaling.JoinRoomResponse{}
	require.NoError(t, tr.room.Connect(context.Background()))

	tr.room.Leave(context.Background(), true)

	assert.NotContains(t, tr.signaler.methods(), signaling.MethodLeaveRoom)
	assert.Equal(t, RoomDisconnected, tr.room.State())
}

func TestDisconnectLocalStream(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	stream := tr.room.NewLocalStream(domain.NewStreamOptions())

	require.NoError(t, tr.room.Disconnect(context.Background(), stream))

	assert.Contains(t, tr.signaler.methods(), signaling.MethodUnpublishVideo)
	_, ok := tr.room.Participant("alice")
	assert.False(t, ok)
	assert.Equal(t, StateDisposed, stream.State())
}

func TestDisconnectRemoteStream(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	tr.signaler.responses[signaling.MethodReceiveVideo] = signaling.SdpAnswerResponse{SdpAnswer: "v=0 answer"}
	tr.room.OnParticipantPublished(signaling.ParticipantInfo{
		ID:      "bob",
		Streams: []signaling.StreamDescriptor{{ID: "webcam"}},
	})
	stream, ok := tr.room.Stream("bob_webcam")
	require.True(t, ok)

	require.NoError(t, tr.room.Disconnect(context.Background(), stream))

	params, ok := tr.signaler.lastParams(signaling.MethodUnsubscribe)
	require.True(t, ok)
	assert.Equal(t, "bob_webcam", params.(signaling.UnsubscribeRequest).Sender)
	_, ok = tr.room.Participant("bob")
	assert.False(t, ok)
}

func TestDisconnectOrphanStream(t *testing.T) {
	tr := newTestRoom(defaultOpts())
	orphan := newStreamSession(tr.room, false, domain.NewStreamOptions())
	assert.Error(t, tr.room.Disconnect(context.Background(), orphan))
}
