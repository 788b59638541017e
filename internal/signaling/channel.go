// Package signaling implements the JSON-RPC room protocol over one
// persistent websocket connection.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// defaultCallTimeout bounds a Call whose context carries no deadline.
	defaultCallTimeout = 15 * time.Second
)

var ErrChannelClosed = errors.New("signaling channel closed")

// RemoteError carries the error object the server returned for a request.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// envelope is the JSON-RPC 2.0 wire frame. A frame with a method and no id
// is a server notification; a frame with an id and no method is a response.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

type pendingCall struct {
	done   chan struct{}
	result json.RawMessage
	err    *RemoteError
}

// Channel multiplexes correlated request/response pairs and inbound
// notifications over a single websocket. Notifications are delivered to the
// handler one at a time, in arrival order.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	params  map[string]any
	handler Events

	nextID  atomic.Uint64
	notices chan envelope
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the room server. The handler for inbound notifications
// is attached later with SetHandler; notifications arriving before that are
// logged and dropped.
func Dial(ctx context.Context, url string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Channel{
		conn:    conn,
		pending: make(map[uint64]*pendingCall),
		notices: make(chan envelope, 256),
		done:    make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.dispatchLoop()
	go c.pingLoop()

	log.Info().Str("module", "signaling").Str("url", url).Msg("connected")
	return c, nil
}

// SetHandler attaches the receiver of inbound notifications.
func (c *Channel) SetHandler(h Events) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetRequestParams sets extra key/value pairs (e.g. an auth token) merged
// into the parameter object of every outgoing call.
func (c *Channel) SetRequestParams(params map[string]any) {
	c.mu.Lock()
	c.params = params
	c.mu.Unlock()
}

// Call sends a request and waits for the correlated response. A server
// error object is returned as *RemoteError. A non-nil result is filled
// from the response payload.
func (c *Channel) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	raw, err := c.mergeParams(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}

	id := c.nextID.Add(1)
	call := &pendingCall{done: make(chan struct{})}
	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(envelope{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrChannelClosed
	case <-call.done:
	}

	if call.err != nil {
		return call.err
	}
	if result != nil && len(call.result) > 0 {
		if err := json.Unmarshal(call.result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Close tears the connection down. Outstanding calls fail with
// ErrChannelClosed. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
		log.Info().Str("module", "signaling").Msg("closed")
	})
}

// mergeParams folds the injected request params into the call's own
// parameter object.
func (c *Channel) mergeParams(params any) (json.RawMessage, error) {
	c.mu.Lock()
	extra := c.params
	c.mu.Unlock()

	if len(extra) == 0 {
		if params == nil {
			return nil, nil
		}
		return json.Marshal(params)
	}

	merged := make(map[string]any, len(extra))
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &merged); err != nil {
			return nil, err
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (c *Channel) write(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "signaling").RawJSON("frame", data).Msg("send")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Str("module", "signaling").Err(err).Msg("read loop ended")
			return
		}
		log.Debug().Str("module", "signaling").RawJSON("frame", data).Msg("recv")

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Str("module", "signaling").Err(err).Msg("bad frame")
			continue
		}

		if env.ID != nil && env.Method == "" {
			c.completeCall(env)
			continue
		}
		select {
		case c.notices <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) completeCall(env envelope) {
	c.mu.Lock()
	call, ok := c.pending[*env.ID]
	if ok {
		// a duplicate response must hit the unknown-call path below
		delete(c.pending, *env.ID)
	}
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "signaling").Uint64("id", *env.ID).Msg("response for unknown call")
		return
	}
	call.result = env.Result
	call.err = env.Error
	close(call.done)
}

// dispatchLoop delivers notifications sequentially so handler code never
// races with itself; responses keep flowing on the read pump meanwhile.
func (c *Channel) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.notices:
			c.dispatch(env)
		}
	}
}

func (c *Channel) dispatch(env envelope) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		log.Warn().Str("module", "signaling").Str("method", env.Method).Msg("no handler, notification dropped")
		return
	}

	switch env.Method {
	case NoticeParticipantJoined:
		var p ParticipantInfo
		if decodeParams(env, &p) {
			h.OnParticipantJoined(p)
		}
	case NoticeParticipantPublished:
		var p ParticipantInfo
		if decodeParams(env, &p) {
			h.OnParticipantPublished(p)
		}
	case NoticeParticipantUnpublished:
		var r ParticipantRef
		if decodeParams(env, &r) {
			h.OnParticipantUnpublished(r)
		}
	case NoticeParticipantLeft:
		var r ParticipantRef
		if decodeParams(env, &r) {
			h.OnParticipantLeft(r)
		}
	case NoticeParticipantEvicted:
		h.OnParticipantEvicted()
	case NoticeSendMessage:
		var m MessageNotice
		if decodeParams(env, &m) {
			h.OnMessageReceived(m)
		}
	case NoticeIceCandidate:
		var i IceCandidateNotice
		if decodeParams(env, &i) {
			h.OnIceCandidate(i)
		}
	case NoticeRoomClosed:
		var r RoomClosedNotice
		if decodeParams(env, &r) {
			h.OnRoomClosed(r)
		}
	case NoticeMediaError:
		var m MediaErrorNotice
		if decodeParams(env, &m) {
			h.OnMediaError(m)
		}
	default:
		log.Warn().Str("module", "signaling").Str("method", env.Method).Msg("unrecognized notification")
	}
}

func decodeParams(env envelope, v any) bool {
	if len(env.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Params, v); err != nil {
		log.Warn().Str("module", "signaling").Str("method", env.Method).Err(err).Msg("bad notification params")
		return false
	}
	return true
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Str("module", "signaling").Err(err).Msg("ping failed")
				return
			}
		}
	}
}
