package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Meet/internal/domain"
)

// recordedCall keeps one outbound request for later assertions.
type recordedCall struct {
	method string
	params any
}

// fakeSignaler answers calls from canned responses and records everything
// it was asked.
type fakeSignaler struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]any
	errs      map[string]error
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		responses: make(map[string]any),
		errs:      make(map[string]error),
	}
}

func (f *fakeSignaler) Call(_ context.Context, method string, params, result any) error {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, params: params})
	resp, hasResp := f.responses[method]
	err := f.errs[method]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if result == nil || !hasResp {
		return nil
	}
	data, mErr := json.Marshal(resp)
	if mErr != nil {
		return mErr
	}
	return json.Unmarshal(data, result)
}

func (f *fakeSignaler) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeSignaler) lastParams(method string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i].params, true
		}
	}
	return nil, false
}

// fakeConnection records the negotiation without touching the network.
type fakeConnection struct {
	mu         sync.Mutex
	opts       ConnectOptions
	applyErr   error
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	closed     int
}

func (c *fakeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake offer"}, nil
}

func (c *fakeConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applyErr != nil {
		return c.applyErr
	}
	c.answers = append(c.answers, answer)
	return nil
}

func (c *fakeConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *fakeConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *fakeConnection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil, nil
}

func (c *fakeConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *fakeConnection) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.candidates))
	copy(out, c.candidates)
	return out
}

type fakeFactory struct {
	mu       sync.Mutex
	conns    []*fakeConnection
	err      error
	applyErr error
}

func (f *fakeFactory) NewConnection(opts ConnectOptions) (MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConnection{opts: opts, applyErr: f.applyErr}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeMedia struct {
	mu      sync.Mutex
	stopped int
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *fakeMedia) stoppedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type fakeProvider struct {
	media *fakeMedia
	err   error
}

func (p *fakeProvider) GetUserMedia(MediaConstraints) (LocalMedia, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.media, nil
}

type fakeSink struct {
	mu       sync.Mutex
	id       string
	attached int
	detached int
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Attach(*webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

// eventLog collects room events synchronously.
type eventLog struct {
	mu     sync.Mutex
	events []RoomEvent
}

func (l *eventLog) record(ev RoomEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []RoomEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RoomEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type testRoom struct {
	room     *RoomSession
	signaler *fakeSignaler
	factory  *fakeFactory
	provider *fakeProvider
	events   *eventLog
}

func newTestRoom(opts domain.RoomOptions) *testRoom {
	tr := &testRoom{
		signaler: newFakeSignaler(),
		factory:  &fakeFactory{},
		provider: &fakeProvider{media: &fakeMedia{}},
		events:   &eventLog{},
	}
	tr.room = NewRoomSession(tr.signaler, tr.provider, tr.factory, opts)
	tr.room.OnEvent(tr.events.record)
	return tr
}
