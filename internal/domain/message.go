package domain

// ChatMessage is a room-wide text message relayed by the server.
type ChatMessage struct {
	Room    RoomName `json:"room"`
	User    string   `json:"user"`
	Message string   `json:"message"`
}
