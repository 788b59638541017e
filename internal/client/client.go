// Package client is the outward facade: it owns the signaling channel and
// wires room/stream sessions to the media stack.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/media"
	"github.com/dkeye/Meet/internal/rtc"
	"github.com/dkeye/Meet/internal/signaling"
)

var (
	ErrRoomActive = errors.New("a room session is already active")
	ErrNoRoom     = errors.New("no active room session")
)

// Options configures a client connection.
type Options struct {
	URL        string
	ICEServers []string
	// RequestParams are merged into every outgoing call (e.g. an auth
	// token).
	RequestParams map[string]any
	// Media overrides the default capture provider; used by headless
	// consumers and tests.
	Media core.MediaProvider
}

// Client holds one signaling connection and at most one active room
// session.
type Client struct {
	channel *signaling.Channel
	media   core.MediaProvider
	peers   core.MediaFactory

	mu   sync.Mutex
	room *core.RoomSession
}

// Dial connects to the room server and prepares the media stack.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	provider := opts.Media
	var engine *webrtc.MediaEngine
	if provider == nil {
		devices, err := media.NewDevices()
		if err != nil {
			return nil, err
		}
		engine = &webrtc.MediaEngine{}
		devices.Populate(engine)
		provider = devices
	}

	peers, err := rtc.NewFactory(rtc.FactoryOptions{ICEServers: opts.ICEServers, Engine: engine})
	if err != nil {
		return nil, err
	}

	channel, err := signaling.Dial(ctx, opts.URL)
	if err != nil {
		return nil, err
	}
	if len(opts.RequestParams) > 0 {
		channel.SetRequestParams(opts.RequestParams)
	}
	return &Client{channel: channel, media: provider, peers: peers}, nil
}

// SetRequestParams replaces the extra parameters injected into every
// outgoing call.
func (c *Client) SetRequestParams(params map[string]any) {
	c.channel.SetRequestParams(params)
}

// Room constructs the active room session and routes inbound notifications
// to it. Only one session may be active per client.
func (c *Client) Room(opts domain.RoomOptions) (*core.RoomSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil {
		return nil, ErrRoomActive
	}
	room := core.NewRoomSession(c.channel, c.media, c.peers, opts)
	c.room = room
	c.channel.SetHandler(room)
	return room, nil
}

func (c *Client) ActiveRoom() *core.RoomSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Stream creates a local stream owned by the room's local participant.
func (c *Client) Stream(room *core.RoomSession, opts domain.StreamOptions) *core.StreamSession {
	return room.NewLocalStream(opts)
}

// SendMessage sends a chat message to the room.
func (c *Client) SendMessage(ctx context.Context, room domain.RoomName, user, message string) error {
	req := signaling.SendMessageRequest{
		RoomMessage: string(room),
		UserMessage: user,
		Message:     message,
	}
	return c.channel.Call(ctx, signaling.MethodSendMessage, req, nil)
}

// SendCustomRequest is the escape hatch for application-defined signaling
// extensions (e.g. toggling a server-side filter).
func (c *Client) SendCustomRequest(ctx context.Context, params, result any) error {
	return c.channel.Call(ctx, signaling.MethodCustomRequest, params, result)
}

// DisconnectParticipant removes the participant owning the stream and
// informs the server.
func (c *Client) DisconnectParticipant(ctx context.Context, stream *core.StreamSession) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return ErrNoRoom
	}
	return room.Disconnect(ctx, stream)
}

// Close leaves the active room and tears the connection down. A forced
// close skips the leave request (used when the server already dropped us).
func (c *Client) Close(ctx context.Context, forced bool) {
	c.mu.Lock()
	room := c.room
	c.room = nil
	c.mu.Unlock()
	if room != nil {
		room.Leave(ctx, forced)
	}
	c.channel.Close()
}
