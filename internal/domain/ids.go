// Package domain contains entity without logic, just meta-data
package domain

import "strings"

type (
	RoomName      string
	ParticipantID string
	StreamID      string
)

// DefaultStreamID is used when a stream is created without an explicit id.
const DefaultStreamID StreamID = "webcam"

// GlobalID addresses one stream across the signaling protocol:
// participantId + "_" + streamId.
type GlobalID string

func ComposeGlobalID(p ParticipantID, s StreamID) GlobalID {
	return GlobalID(string(p) + "_" + string(s))
}

// OrphanGlobalID is the fallback for a stream with no owning participant.
func OrphanGlobalID(s StreamID) GlobalID {
	return GlobalID(string(s) + "_" + string(DefaultStreamID))
}

// Split recovers (participant, stream) from a global id. The stream id is
// everything after the last underscore, so the round trip is exact whenever
// the stream id itself contains no underscore.
func (g GlobalID) Split() (ParticipantID, StreamID, bool) {
	i := strings.LastIndex(string(g), "_")
	if i <= 0 || i == len(g)-1 {
		return "", "", false
	}
	return ParticipantID(g[:i]), StreamID(g[i+1:]), true
}
