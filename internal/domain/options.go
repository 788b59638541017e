package domain

// CandidateTarget selects which of a participant's streams an inbound ICE
// candidate is applied to. The protocol does not name the stream, so the
// policy is explicit here.
type CandidateTarget int

const (
	// CandidateAllStreams applies the candidate to every stream owned by the
	// named endpoint.
	CandidateAllStreams CandidateTarget = iota
	// CandidateWebcamOnly applies the candidate only to the default stream.
	CandidateWebcamOnly
)

// RoomOptions configures a room session before joining.
type RoomOptions struct {
	Name RoomName
	User ParticipantID
	// SubscribeToStreams makes the session subscribe automatically to every
	// stream it learns about.
	SubscribeToStreams bool
	CandidateTarget    CandidateTarget
}

func NewRoomOptions(name RoomName, user ParticipantID) RoomOptions {
	return RoomOptions{
		Name:               name,
		User:               user,
		SubscribeToStreams: true,
		CandidateTarget:    CandidateAllStreams,
	}
}

// StreamOptions enumerates the recognized stream settings with their
// defaults resolved. Receive flags default to true, the id to "webcam".
type StreamOptions struct {
	ID        StreamID
	RecvVideo bool
	RecvAudio bool
	// Loopback requests that a published stream is also sent back to its
	// publisher for self-preview.
	Loopback bool
}

func NewStreamOptions() StreamOptions {
	return StreamOptions{
		ID:        DefaultStreamID,
		RecvVideo: true,
		RecvAudio: true,
	}
}

// ResolveStreamOptions fills in the defaults for a wire-level descriptor
// where absent flags mean true.
func ResolveStreamOptions(id string, recvVideo, recvAudio *bool) StreamOptions {
	opts := NewStreamOptions()
	if id != "" {
		opts.ID = StreamID(id)
	}
	if recvVideo != nil {
		opts.RecvVideo = *recvVideo
	}
	if recvAudio != nil {
		opts.RecvAudio = *recvAudio
	}
	return opts
}
