package main

import (
	"context"
	"net/http"
	"time"

	"callqueue/internal/agents"
	"callqueue/internal/auth"
	"callqueue/internal/calls"
	"callqueue/internal/config"
	"callqueue/internal/dispatch"
	"callqueue/internal/httpapi"
	"callqueue/internal/metrics"
	"callqueue/internal/routing"
	"callqueue/internal/telephony"
	"callqueue/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type check struct {
	name string
	fn   func(ctx context.Context) error
}

// deps is everything the routes need, built once in main.
type deps struct {
	cfg         config.Config
	auth        *auth.Manager
	registry    *prometheus.Registry
	metrics     metrics.Recorder
	router      routing.Engine
	gateway     *calls.Gateway
	locker      agents.Locker
	coordinator *dispatch.Coordinator
	urls        telephony.URLs
	readiness   []check
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readyHandler(d.readiness))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Provider webhooks (public, signed by Twilio).
	{
		webhooks := r.Group("/")
		if d.cfg.Twilio.AuthToken != "" {
			webhooks.Use(telephony.RequireTwilioSignature(d.cfg.Twilio.AuthToken, d.cfg.Twilio.PublicBaseURL))
		}
		h := telephony.TwilioWebhookHandler{
			Router:          d.router,
			Intake:          d.coordinator,
			Calls:           d.gateway,
			URLs:            d.urls,
			GreetingMessage: d.cfg.Routing.GreetingMessage,
			ClosedMessage:   d.cfg.Routing.ClosedMessage,
			HoldMusicURL:    d.cfg.Routing.HoldMusicURL,
		}
		h.Register(webhooks)
	}

	api := httpapi.Handlers{
		Auth:          d.auth,
		Dispatch:      d.coordinator,
		Agents:        d.locker,
		Conversations: d.gateway,
	}
	r.POST("/v1/auth/refresh", api.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	api.Register(v1)
}

func readyHandler(checks []check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		failed := gin.H{}
		for _, ch := range checks {
			if err := ch.fn(ctx); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "check", ch.name, "err", err)
				failed[ch.name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
