package httpapi

import (
	"net/http"

	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/tenant"

	"github.com/gin-gonic/gin"
)

// Audit resource names.
const (
	resourceTenant    = "tenant"
	resourceHours     = "business_hours"
	resourceRule      = "forwarding_rule"
	resourceMenu      = "ivr_menu"
	resourceHuntGroup = "hunt_group"
	resourceRingGroup = "ring_group"
	resourceQueue     = "call_queue"
	resourcePresence  = "presence"
)

// --- Tenant ---

func (h Handlers) GetTenant(c *gin.Context) {
	t, err := h.Catalog.Tenant(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PutTenant replaces the caller's tenant: dialed numbers, default route,
// AI settings and voicemail greeting.
func (h Handlers) PutTenant(c *gin.Context) {
	var t tenant.Tenant
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	t.ID = tenantID(c)
	saved, err := h.Catalog.PutTenant(c.Request.Context(), t)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceTenant, saved.ID, "update", saved)
	c.JSON(http.StatusOK, saved)
}

// --- Business hours ---

func (h Handlers) GetBusinessHours(c *gin.Context) {
	cfg, err := h.Catalog.BusinessHours(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if cfg == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "business hours not configured"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h Handlers) PutBusinessHours(c *gin.Context) {
	var cfg hours.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	cfg.TenantID = tenantID(c)
	if err := h.Catalog.PutBusinessHours(c.Request.Context(), cfg); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceHours, cfg.TenantID, "update", cfg)
	c.JSON(http.StatusOK, cfg)
}

// --- Forwarding rules ---

func (h Handlers) ListRules(c *gin.Context) {
	rules, err := h.Catalog.ForwardingRules(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handlers) GetRule(c *gin.Context) {
	r, err := h.Catalog.ForwardingRule(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) CreateRule(c *gin.Context) {
	var r forwarding.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	r.ID = ""
	h.putRule(c, r, http.StatusCreated, "create")
}

func (h Handlers) UpdateRule(c *gin.Context) {
	old, err := h.Catalog.ForwardingRule(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var r forwarding.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	r.ID = old.ID
	r.CreatedAt = old.CreatedAt
	h.putRule(c, r, http.StatusOK, "update")
}

func (h Handlers) putRule(c *gin.Context, r forwarding.Rule, status int, action string) {
	r.TenantID = tenantID(c)
	saved, err := h.Catalog.PutForwardingRule(c.Request.Context(), r)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceRule, saved.ID, action, saved)
	c.JSON(status, saved)
}

func (h Handlers) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteForwardingRule(c.Request.Context(), tenantID(c), id); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceRule, id, "delete", nil)
	c.Status(http.StatusNoContent)
}

// --- IVR menus ---

func (h Handlers) ListMenus(c *gin.Context) {
	menus, err := h.Catalog.Menus(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"menus": menus})
}

func (h Handlers) GetMenu(c *gin.Context) {
	m, err := h.Catalog.Menu(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) CreateMenu(c *gin.Context) {
	var m ivr.Menu
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}
	m.ID = ""
	h.putMenu(c, m, http.StatusCreated, "create")
}

func (h Handlers) UpdateMenu(c *gin.Context) {
	if _, err := h.Catalog.Menu(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	var m ivr.Menu
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}
	m.ID = c.Param("id")
	h.putMenu(c, m, http.StatusOK, "update")
}

// putMenu: a menu saved as default demotes the previous default.
func (h Handlers) putMenu(c *gin.Context, m ivr.Menu, status int, action string) {
	m.TenantID = tenantID(c)
	saved, err := h.Catalog.PutMenu(c.Request.Context(), m)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceMenu, saved.ID, action, saved)
	c.JSON(status, saved)
}

func (h Handlers) DeleteMenu(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteMenu(c.Request.Context(), tenantID(c), id); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceMenu, id, "delete", nil)
	c.Status(http.StatusNoContent)
}
