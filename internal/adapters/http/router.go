package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Telecall/internal/adapters/signal"
	"github.com/dkeye/Telecall/internal/app/call"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a per-browser token in the signed session
// cookie and exposes it as "client_token" in the gin context.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Str("module", "adapters.http").Err(err).Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// Deps is what the relay routes need.
type Deps struct {
	Store      core.DocumentStore
	Controller *signal.StoreWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("TelecallSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/store", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString(clientTokenKey)).Msg("ws store endpoint hit")
		deps.Controller.HandleStore(ctx, c)
	})
	api.GET("/calls/:id", callHandler(deps.Store))

	return r
}

// callHandler shows the state of one call document without its SDP bodies.
func callHandler(store core.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := domain.ParseCallID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fields, err := store.GetFields(c.Request.Context(), call.CallRef(id))
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("call_id", string(id)).Msg("call lookup")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, call.Summarize(id, fields))
	}
}
