package core

import "github.com/pion/webrtc/v4"

// MediaMode selects the direction of a peer connection.
type MediaMode int

const (
	MediaSendOnly MediaMode = iota
	MediaRecvOnly
	MediaSendRecv
)

func (m MediaMode) String() string {
	switch m {
	case MediaSendOnly:
		return "sendonly"
	case MediaRecvOnly:
		return "recvonly"
	case MediaSendRecv:
		return "sendrecv"
	default:
		return "unknown"
	}
}

// ConnectOptions configures a new peer connection. The receive flags only
// matter for recv-capable modes.
type ConnectOptions struct {
	Mode      MediaMode
	RecvAudio bool
	RecvVideo bool
}

// MediaConnection wraps one WebRTC peer connection.
// Owned by a StreamSession; the session must Close() it.
type MediaConnection interface {
	// CreateOffer generates and installs the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyAnswer installs the remote description.
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local capture track.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// Close releases the connection. Must be safe to call twice.
	Close()
}

// MediaFactory builds peer connections on demand, one per negotiation.
type MediaFactory interface {
	NewConnection(ConnectOptions) (MediaConnection, error)
}

// MediaConstraints mirrors the browser getUserMedia constraint set we
// actually use.
type MediaConstraints struct {
	Audio     bool
	Video     bool
	MaxWidth  int
	FrameRate float32
}

func DefaultConstraints() MediaConstraints {
	return MediaConstraints{Audio: true, Video: true, MaxWidth: 640, FrameRate: 15}
}

// LocalMedia is an acquired camera/microphone capture.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the devices. Must be safe to call twice.
	Stop()
}

// MediaProvider acquires local capture devices.
type MediaProvider interface {
	GetUserMedia(MediaConstraints) (LocalMedia, error)
}

// MediaSink consumes a stream's inbound media; it stands in for the video
// elements a browser client would attach.
type MediaSink interface {
	ID() string
	Attach(track *webrtc.TrackRemote)
	Detach()
}
