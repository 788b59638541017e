// Package rtc adapts pion peer connections to the core media contract.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
)

// FactoryOptions configures the shared ICE servers and, optionally, a
// media engine pre-populated with the local capture codecs.
type FactoryOptions struct {
	ICEServers []string
	Engine     *webrtc.MediaEngine
}

// Factory builds peer connections sharing one configuration.
type Factory struct {
	config webrtc.Configuration
	api    *webrtc.API
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func NewFactory(opts FactoryOptions) (*Factory, error) {
	config := DefaultConfig()
	if len(opts.ICEServers) > 0 {
		config = webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: opts.ICEServers}},
		}
	}
	engine := opts.Engine
	if engine == nil {
		engine = &webrtc.MediaEngine{}
		if err := engine.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	return &Factory{config: config, api: api}, nil
}

func (f *Factory) NewConnection(opts core.ConnectOptions) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, mode: opts.Mode}

	if opts.Mode == core.MediaRecvOnly {
		init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
		if opts.RecvAudio {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, init); err != nil {
				c.Close()
				return nil, err
			}
		}
		if opts.RecvVideo {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, init); err != nil {
				c.Close()
				return nil, err
			}
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer_state", s.String()).Msg("peer state")
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	return c, nil
}

// Connection implements core.MediaConnection over a pion peer connection.
// ICE is trickled: CreateOffer does not wait for gathering, candidates are
// relayed through the OnICECandidate callback as they appear.
type Connection struct {
	pc   *webrtc.PeerConnection
	mode core.MediaMode

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	once    sync.Once
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// AddLocalTrack attaches a capture track. Send-only connections pin the
// transceiver direction so no return media is negotiated.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	if c.mode == core.MediaSendOnly {
		init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}
		tr, err := c.pc.AddTransceiverFromTrack(track, init)
		if err != nil {
			return nil, err
		}
		return tr.Sender(), nil
	}
	return c.pc.AddTrack(track)
}

func (c *Connection) Close() {
	c.once.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Str("module", "rtc").Err(err).Msg("close error")
		}
	})
}
