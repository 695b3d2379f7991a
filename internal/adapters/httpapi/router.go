// Package httpapi is the local control surface of the headless client:
// join/leave calls and inspect peer sessions over HTTP.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
)

type joinRequest struct {
	Room domain.Room `json:"room" binding:"required"`
}

func SetupRouter(cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/call", func(c *gin.Context) {
		room := o.Room()
		c.JSON(http.StatusOK, gin.H{
			"in_call": room != nil,
			"room":    room,
			"muted":   o.Registry.Muted(),
		})
	})

	api.GET("/call/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": o.Registry.Snapshot()})
	})

	api.POST("/call/join", func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Room.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room"})
			return
		}
		if err := o.JoinCall(c.Request.Context(), req.Room); err != nil {
			log.Error().Err(err).Str("module", "httpapi").Str("room", string(req.Room.ID)).Msg("join call")
			c.JSON(http.StatusBadGateway, gin.H{"error": "signaling unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": req.Room.ID})
	})

	api.POST("/call/leave", func(c *gin.Context) {
		if err := o.LeaveCall(); err != nil {
			if errors.Is(err, orch.ErrNotInCall) {
				c.JSON(http.StatusConflict, gin.H{"error": "not in a call"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": true})
	})

	api.POST("/call/mute", func(c *gin.Context) {
		o.Registry.SetMuted(true)
		c.JSON(http.StatusOK, gin.H{"muted": true})
	})

	api.POST("/call/unmute", func(c *gin.Context) {
		o.Registry.SetMuted(false)
		c.JSON(http.StatusOK, gin.H{"muted": false})
	})

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}
