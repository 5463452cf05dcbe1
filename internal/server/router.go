package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/auth"
	"github.com/lumastream/signalcore/internal/domain"
)

type RouterConfig struct {
	Mode    string
	Options Options
	// Issuer enables the dev token endpoint; leave nil in production,
	// where tokens come from the platform API.
	Issuer *auth.Issuer
}

func SetupRouter(ctx context.Context, cfg RouterConfig, hub *Hub, verifier *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := NewController(hub, verifier, cfg.Options)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	if cfg.Issuer != nil {
		r.POST("/api/token", func(c *gin.Context) {
			var req struct {
				UserID  string `json:"userId"`
				Channel string `json:"channelName"`
				Role    string `json:"role"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
				return
			}
			identity, err := domain.NewSessionIdentity(
				domain.UserID(req.UserID),
				domain.ChannelName(req.Channel),
				domain.Role(req.Role),
			)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			token, err := cfg.Issuer.Issue(identity)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "issue_failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	log.Info().Str("module", "server.router").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
