package main

import (
	"net/http"

	"bizphone/internal/auth"
	"bizphone/internal/config"
	"bizphone/internal/httpapi"
	"bizphone/internal/routing"
	"bizphone/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth     *auth.Manager
	Engine   *routing.Orchestrator
	Backends *backends
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := d.Backends.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks. Twilio signs every request; unsigned ones are
	// rejected when validation is on.
	hooks := r.Group("")
	if cfg.Twilio.ValidateSignature {
		hooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	}
	telephony.TwilioHandler{
		Router:           d.Engine,
		URLs:             telephony.URLs{Base: cfg.Twilio.PublicBaseURL, SIPDomain: cfg.Twilio.SIPDomain},
		FallbackGreeting: cfg.Routing.VoicemailGreeting,
	}.Register(hooks)

	h := httpapi.Handlers{
		Auth:     d.Auth,
		Catalog:  d.Backends.Catalog,
		Presence: d.Engine.Presence,
		Park:     d.Engine.Park,
		Audit:    d.Backends.Audit,
		DevLogin: cfg.App.Env == "local" || cfg.App.Env == "dev",
	}

	h.RegisterAuth(r.Group("/v1/auth"))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.Auth))
	h.Register(v1)
}
