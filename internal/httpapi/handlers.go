package httpapi

import (
	"errors"
	"net/http"
	"time"

	"bizphone/internal/audit"
	"bizphone/internal/auth"
	"bizphone/internal/catalog"
	"bizphone/internal/park"
	"bizphone/internal/presence"
	"bizphone/internal/rbac"
	"bizphone/internal/routing"
	"bizphone/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// Validation of routing configuration lives in the catalog, not here.
type Handlers struct {
	Auth     *auth.Manager
	Catalog  catalog.Repository
	Presence *presence.Tracker
	Park     *park.Manager
	Audit    *audit.Service

	// DevLogin enables the credential-less login endpoint. Never set it
	// outside local and dev environments.
	DevLogin bool

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// Register mounts the admin API. rg must already carry the access token
// middleware.
func (h Handlers) Register(rg *gin.RouterGroup) {
	rg.Use(rbac.RequireTenant())

	read := rbac.RequireAnyRole(rbac.ConfigReaders...)
	write := rbac.RequireAnyRole(rbac.ConfigWriters...)
	calls := rbac.RequireAnyRole(rbac.CallHandlers...)
	viewers := rbac.RequireAnyRole(rbac.PresenceViewers...)

	rg.GET("/me", h.Me)

	rg.GET("/tenant", read, h.GetTenant)
	rg.PUT("/tenant", write, h.PutTenant)

	rg.GET("/business-hours", read, h.GetBusinessHours)
	rg.PUT("/business-hours", write, h.PutBusinessHours)

	rg.GET("/forwarding-rules", read, h.ListRules)
	rg.GET("/forwarding-rules/:id", read, h.GetRule)
	rg.POST("/forwarding-rules", write, h.CreateRule)
	rg.PUT("/forwarding-rules/:id", write, h.UpdateRule)
	rg.DELETE("/forwarding-rules/:id", write, h.DeleteRule)

	rg.GET("/ivr-menus", read, h.ListMenus)
	rg.GET("/ivr-menus/:id", read, h.GetMenu)
	rg.POST("/ivr-menus", write, h.CreateMenu)
	rg.PUT("/ivr-menus/:id", write, h.UpdateMenu)
	rg.DELETE("/ivr-menus/:id", write, h.DeleteMenu)

	rg.GET("/hunt-groups", read, h.ListHuntGroups)
	rg.GET("/hunt-groups/:id", read, h.GetHuntGroup)
	rg.POST("/hunt-groups", write, h.CreateHuntGroup)
	rg.PUT("/hunt-groups/:id", write, h.UpdateHuntGroup)
	rg.DELETE("/hunt-groups/:id", write, h.DeleteHuntGroup)

	rg.GET("/ring-groups", read, h.ListRingGroups)
	rg.GET("/ring-groups/:id", read, h.GetRingGroup)
	rg.POST("/ring-groups", write, h.CreateRingGroup)
	rg.PUT("/ring-groups/:id", write, h.UpdateRingGroup)
	rg.DELETE("/ring-groups/:id", write, h.DeleteRingGroup)

	rg.GET("/queues", read, h.ListQueues)
	rg.GET("/queues/:id", read, h.GetQueue)
	rg.POST("/queues", write, h.CreateQueue)
	rg.PUT("/queues/:id", write, h.UpdateQueue)
	rg.DELETE("/queues/:id", write, h.DeleteQueue)

	rg.GET("/presence", viewers, h.ListPresence)
	rg.GET("/presence/available", viewers, h.ListAvailable)
	rg.GET("/presence/:agent_id", viewers, h.GetPresence)
	rg.PUT("/presence/:agent_id", calls, h.PutPresence)

	rg.GET("/parked-calls", calls, h.ListParked)
	rg.POST("/parked-calls", calls, h.ParkCall)
	rg.POST("/parked-calls/:slot/retrieve", calls, h.RetrieveParked)
}

// RegisterAuth mounts token issuance. These routes are public and exist only
// with DevLogin; deployed tenants get tokens from the identity provider,
// which shares the signing secret and owns the role directory.
func (h Handlers) RegisterAuth(rg *gin.RouterGroup) {
	if !h.DevLogin {
		return
	}
	rg.POST("/login", h.Login)
	rg.POST("/refresh", h.Refresh)
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	TenantID string `json:"tenant_id" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

// Login issues a JWT token pair.
//
// NOTE: dev-only; real deployments issue tokens from the identity provider.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	Role         string `json:"role" binding:"required"`
}

// Refresh exchanges a refresh token for a new pair. Refresh tokens carry no
// role, so the caller names it as on login.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token, role required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, req.Role, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	tid, _ := auth.TenantID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
}

// --- helpers ---

// tenantID is set by rbac.RequireTenant before any handler runs.
func tenantID(c *gin.Context) string {
	tid, _ := auth.TenantID(c.Request.Context())
	return tid
}

func actor(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// fail maps domain errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch routing.Classify(err) {
	case routing.ErrNotFound:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case routing.ErrConflict:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case routing.ErrInvalidConfig:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("admin request failed", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
}

// record writes a config-change audit event. Audit failures never fail the
// write that already happened.
func (h Handlers) record(c *gin.Context, resource, id, action string, payload any) {
	err := h.Audit.LogConfigChange(c.Request.Context(), tenantID(c), actor(c), resource, id, action, payload)
	if err != nil && !errors.Is(err, audit.ErrNotConfigured) {
		logger.FromGin(c).Warn("audit write failed", "resource", resource, "id", id, "err", err)
	}
}
