// Package http exposes the demo's room state and chat over a small REST
// surface; it stands in for a browser UI.
package http

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const chatHistory = 100

// Controller mirrors room events into an inspectable snapshot.
type Controller struct {
	client *client.Client

	mu       sync.Mutex
	room     *core.RoomSession
	local    *core.StreamSession
	messages []domain.ChatMessage
	events   []string
}

func NewController(c *client.Client) *Controller {
	return &Controller{client: c}
}

// SetLocalStream records the currently published local stream so the publish
// toggle endpoints operate on it.
func (ctl *Controller) SetLocalStream(s *core.StreamSession) {
	ctl.mu.Lock()
	ctl.local = s
	ctl.mu.Unlock()
}

// Bind subscribes the controller to a room session's events.
func (ctl *Controller) Bind(room *core.RoomSession) {
	ctl.mu.Lock()
	ctl.room = room
	ctl.mu.Unlock()
	room.OnEvent(func(ev core.RoomEvent) {
		ctl.mu.Lock()
		defer ctl.mu.Unlock()
		switch e := ev.(type) {
		case core.NewMessageEvent:
			ctl.messages = append(ctl.messages, e.Message)
			if len(ctl.messages) > chatHistory {
				ctl.messages = ctl.messages[1:]
			}
		case core.ParticipantJoinedEvent:
			ctl.events = append(ctl.events, "joined: "+string(e.Participant.ID()))
		case core.ParticipantLeftEvent:
			ctl.events = append(ctl.events, "left: "+string(e.Participant.ID()))
		case core.StreamAddedEvent:
			ctl.events = append(ctl.events, "stream: "+string(e.Stream.GlobalID()))
		case core.RoomClosedEvent:
			ctl.events = append(ctl.events, "room closed: "+string(e.Room))
		}
	})
}

type streamView struct {
	ID       string `json:"id"`
	GlobalID string `json:"globalId"`
	State    string `json:"state"`
	Local    bool   `json:"local"`
}

type participantView struct {
	ID      string       `json:"id"`
	Local   bool         `json:"local"`
	Streams []streamView `json:"streams"`
}

func SetupRouter(cfg *config.Config, ctl *Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	api.GET("/room", func(c *gin.Context) {
		room := ctl.client.ActiveRoom()
		if room == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active room"})
			return
		}
		participants := make([]participantView, 0)
		for _, p := range room.Participants() {
			pv := participantView{ID: string(p.ID()), Local: p.IsLocal(), Streams: make([]streamView, 0)}
			for _, s := range p.Streams() {
				pv.Streams = append(pv.Streams, streamView{
					ID:       string(s.ID()),
					GlobalID: string(s.GlobalID()),
					State:    s.State().String(),
					Local:    s.IsLocal(),
				})
			}
			participants = append(participants, pv)
		}
		c.JSON(http.StatusOK, gin.H{
			"name":         string(room.Name()),
			"state":        room.State().String(),
			"participants": participants,
		})
	})

	api.GET("/messages", func(c *gin.Context) {
		ctl.mu.Lock()
		msgs := make([]domain.ChatMessage, len(ctl.messages))
		copy(msgs, ctl.messages)
		ctl.mu.Unlock()
		c.JSON(http.StatusOK, msgs)
	})

	api.GET("/events", func(c *gin.Context) {
		ctl.mu.Lock()
		events := make([]string, len(ctl.events))
		copy(events, ctl.events)
		ctl.mu.Unlock()
		c.JSON(http.StatusOK, events)
	})

	api.POST("/publish", func(c *gin.Context) {
		ctl.mu.Lock()
		room := ctl.room
		local := ctl.local
		ctl.mu.Unlock()
		if room == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active room"})
			return
		}
		if local != nil && local.State() != core.StateDisposed {
			c.JSON(http.StatusConflict, gin.H{"error": "already publishing"})
			return
		}
		stream := ctl.client.Stream(room, domain.NewStreamOptions())
		if err := stream.AcquireLocalMedia(core.DefaultConstraints()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := stream.Publish(c.Request.Context()); err != nil {
			stream.Dispose()
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		ctl.SetLocalStream(stream)
		c.Status(http.StatusNoContent)
	})

	api.POST("/unpublish", func(c *gin.Context) {
		ctl.mu.Lock()
		local := ctl.local
		ctl.local = nil
		ctl.mu.Unlock()
		if local == nil || local.State() == core.StateDisposed {
			c.JSON(http.StatusNotFound, gin.H{"error": "not publishing"})
			return
		}
		if err := local.Unpublish(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/message", func(c *gin.Context) {
		var body struct {
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
			return
		}
		room := ctl.client.ActiveRoom()
		if room == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active room"})
			return
		}
		user := string(room.LocalParticipant().ID())
		if err := ctl.client.SendMessage(c.Request.Context(), room.Name(), user, body.Message); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
