package httpapi

import (
	"net/http"

	"bizphone/internal/distribution"
	"bizphone/internal/queue"

	"github.com/gin-gonic/gin"
)

// Group and queue extensions share one namespace per tenant; the catalog
// answers a clash with ErrConflict, which fail maps to 409.

// --- Hunt groups ---

func (h Handlers) ListHuntGroups(c *gin.Context) {
	gs, err := h.Catalog.HuntGroups(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hunt_groups": gs})
}

func (h Handlers) GetHuntGroup(c *gin.Context) {
	g, err := h.Catalog.HuntGroup(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h Handlers) CreateHuntGroup(c *gin.Context) {
	var g distribution.HuntGroup
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	g.ID = ""
	h.putHuntGroup(c, g, http.StatusCreated, "create")
}

func (h Handlers) UpdateHuntGroup(c *gin.Context) {
	if _, err := h.Catalog.HuntGroup(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	var g distribution.HuntGroup
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	g.ID = c.Param("id")
	h.putHuntGroup(c, g, http.StatusOK, "update")
}

func (h Handlers) putHuntGroup(c *gin.Context, g distribution.HuntGroup, status int, action string) {
	g.TenantID = tenantID(c)
	saved, err := h.Catalog.PutHuntGroup(c.Request.Context(), g)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceHuntGroup, saved.ID, action, saved)
	c.JSON(status, saved)
}

func (h Handlers) DeleteHuntGroup(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteHuntGroup(c.Request.Context(), tenantID(c), id); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceHuntGroup, id, "delete", nil)
	c.Status(http.StatusNoContent)
}

// --- Ring groups ---

func (h Handlers) ListRingGroups(c *gin.Context) {
	gs, err := h.Catalog.RingGroups(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ring_groups": gs})
}

func (h Handlers) GetRingGroup(c *gin.Context) {
	g, err := h.Catalog.RingGroup(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h Handlers) CreateRingGroup(c *gin.Context) {
	var g distribution.RingGroup
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	g.ID = ""
	h.putRingGroup(c, g, http.StatusCreated, "create")
}

func (h Handlers) UpdateRingGroup(c *gin.Context) {
	if _, err := h.Catalog.RingGroup(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	var g distribution.RingGroup
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	g.ID = c.Param("id")
	h.putRingGroup(c, g, http.StatusOK, "update")
}

func (h Handlers) putRingGroup(c *gin.Context, g distribution.RingGroup, status int, action string) {
	g.TenantID = tenantID(c)
	saved, err := h.Catalog.PutRingGroup(c.Request.Context(), g)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceRingGroup, saved.ID, action, saved)
	c.JSON(status, saved)
}

func (h Handlers) DeleteRingGroup(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteRingGroup(c.Request.Context(), tenantID(c), id); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceRingGroup, id, "delete", nil)
	c.Status(http.StatusNoContent)
}

// --- Call queues ---

func (h Handlers) ListQueues(c *gin.Context) {
	qs, err := h.Catalog.Queues(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": qs})
}

// GetQueue accepts a queue id or extension.
func (h Handlers) GetQueue(c *gin.Context) {
	q, err := h.Catalog.Queue(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) CreateQueue(c *gin.Context) {
	var q queue.CallQueue
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.ID = ""
	h.putQueue(c, q, http.StatusCreated, "create")
}

func (h Handlers) UpdateQueue(c *gin.Context) {
	old, err := h.Catalog.Queue(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var q queue.CallQueue
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.ID = old.ID
	h.putQueue(c, q, http.StatusOK, "update")
}

func (h Handlers) putQueue(c *gin.Context, q queue.CallQueue, status int, action string) {
	q.TenantID = tenantID(c)
	saved, err := h.Catalog.PutQueue(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceQueue, saved.ID, action, saved)
	c.JSON(status, saved)
}

func (h Handlers) DeleteQueue(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteQueue(c.Request.Context(), tenantID(c), id); err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourceQueue, id, "delete", nil)
	c.Status(http.StatusNoContent)
}
