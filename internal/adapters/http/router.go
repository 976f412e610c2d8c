package http

import (
	"context"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/adapters/signal"
	"github.com/dkeye/voicechat/internal/app/orch"
	"github.com/dkeye/voicechat/internal/config"
	"github.com/dkeye/voicechat/internal/datastore"
	"github.com/dkeye/voicechat/internal/logging"
	"github.com/dkeye/voicechat/internal/metrics"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, store datastore.Store, ws *signal.SignalWSController) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(logging.GinLogger())
	}
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	cookies := cookie.NewStore([]byte(cfg.Secret))
	cookies.Options(sessions.Options{Path: "/", MaxAge: int(cfg.JWTTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, cookies))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	auth := NewAuth(store, cfg.Secret, cfg.JWTTTL, cfg.InviteCode)
	h := &handlers{orch: o, store: store}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/register", auth.register)
	api.POST("/login", auth.login)
	api.POST("/logout", auth.logout)

	authed := api.Group("", auth.Required())
	authed.GET("/channels", h.listChannels)
	authed.GET("/me", h.me)
	authed.PATCH("/me", h.updateMe)
	authed.GET("/audio/config", h.audioConfig)
	authed.GET("/rooms", h.rooms)

	admin := authed.Group("/audio/stats", AdminOnly())
	admin.GET("", h.audioStats)
	admin.POST("/reset", h.resetAudioStats)

	r.GET("/ws", auth.Required(), func(c *gin.Context) {
		user := CurrentUser(c)
		log.Debug().Str("module", "adapters.http").Int64("user", int64(user.ID)).Msg("ws signal endpoint hit")
		ws.HandleSignal(ctx, c, user)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
