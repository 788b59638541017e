package signaling

// Outbound request methods.
const (
	MethodJoinRoom       = "joinRoom"
	MethodLeaveRoom      = "leaveRoom"
	MethodPublishVideo   = "publishVideo"
	MethodUnpublishVideo = "unpublishVideo"
	MethodReceiveVideo   = "receiveVideoFrom"
	MethodUnsubscribe    = "unsubscribeFromVideo"
	MethodOnIceCandidate = "onIceCandidate"
	MethodSendMessage    = "sendMessage"
	MethodCustomRequest  = "customRequest"
)

// Server-initiated notifications.
const (
	NoticeParticipantJoined      = "participantJoined"
	NoticeParticipantPublished   = "participantPublished"
	NoticeParticipantUnpublished = "participantUnpublished"
	NoticeParticipantLeft        = "participantLeft"
	NoticeParticipantEvicted     = "participantEvicted"
	NoticeSendMessage            = "sendMessage"
	NoticeIceCandidate           = "iceCandidate"
	NoticeRoomClosed             = "roomClosed"
	NoticeMediaError             = "mediaError"
)

type JoinRoomRequest struct {
	User string `json:"user"`
	Room string `json:"room"`
}

// JoinRoomResponse lists the members already present in the room.
type JoinRoomResponse struct {
	Value []ParticipantInfo `json:"value"`
}

// ParticipantInfo describes one room member, with its published streams if
// any. It doubles as the payload of participantJoined/participantPublished.
type ParticipantInfo struct {
	ID      string             `json:"id"`
	Streams []StreamDescriptor `json:"streams,omitempty"`
}

// StreamDescriptor is the wire form of one stream. Absent receive flags
// mean true.
type StreamDescriptor struct {
	ID        string `json:"id"`
	RecvVideo *bool  `json:"recvVideo,omitempty"`
	RecvAudio *bool  `json:"recvAudio,omitempty"`
}

type PublishVideoRequest struct {
	SdpOffer   string `json:"sdpOffer"`
	DoLoopback bool   `json:"doLoopback"`
}

type ReceiveVideoRequest struct {
	Sender   string `json:"sender"`
	SdpOffer string `json:"sdpOffer"`
}

// SdpAnswerResponse carries the negotiated answer for publishVideo and
// receiveVideoFrom.
type SdpAnswerResponse struct {
	SdpAnswer string `json:"sdpAnswer"`
}

type UnsubscribeRequest struct {
	Sender string `json:"sender"`
}

type IceCandidateRequest struct {
	EndpointName  string `json:"endpointName"`
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex uint16 `json:"sdpMLineIndex"`
}

type SendMessageRequest struct {
	RoomMessage string `json:"roomMessage"`
	UserMessage string `json:"userMessage"`
	Message     string `json:"message"`
}

// ParticipantRef names a participant in unpublished/left notifications.
type ParticipantRef struct {
	Name string `json:"name"`
}

type MessageNotice struct {
	Room    string `json:"room"`
	User    string `json:"user"`
	Message string `json:"message"`
}

type IceCandidateNotice struct {
	EndpointName  string `json:"endpointName"`
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex uint16 `json:"sdpMLineIndex"`
}

type RoomClosedNotice struct {
	Room string `json:"room"`
}

type MediaErrorNotice struct {
	Error string `json:"error"`
}

// Events receives server-initiated notifications, one call per inbound
// message, in arrival order. Implementations must never block forever:
// dispatch is sequential and a stuck handler stalls every later
// notification.
type Events interface {
	OnParticipantJoined(ParticipantInfo)
	OnParticipantPublished(ParticipantInfo)
	OnParticipantUnpublished(ParticipantRef)
	OnParticipantLeft(ParticipantRef)
	OnParticipantEvicted()
	OnMessageReceived(MessageNotice)
	OnIceCandidate(IceCandidateNotice)
	OnRoomClosed(RoomClosedNotice)
	OnMediaError(MediaErrorNotice)
}
