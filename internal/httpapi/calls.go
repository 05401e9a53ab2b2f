package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"bizphone/internal/audit"
	"bizphone/internal/park"
	"bizphone/internal/presence"
	"bizphone/pkg/logger"

	"github.com/gin-gonic/gin"
)

// --- Presence ---

func (h Handlers) ListPresence(c *gin.Context) {
	snap, err := h.Presence.Snapshot(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]presence.Presence, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (h Handlers) ListAvailable(c *gin.Context) {
	ids, err := h.Presence.ListAvailable(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_ids": ids})
}

func (h Handlers) GetPresence(c *gin.Context) {
	p, err := h.Presence.Get(c.Request.Context(), tenantID(c), c.Param("agent_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PutPresence applies a partial update; omitted fields are left alone.
func (h Handlers) PutPresence(c *gin.Context) {
	var u presence.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	agentID := c.Param("agent_id")
	p, err := h.Presence.Set(c.Request.Context(), tenantID(c), agentID, u)
	if err != nil {
		fail(c, err)
		return
	}
	h.record(c, resourcePresence, agentID, "update", u)
	c.JSON(http.StatusOK, p)
}

// --- Call park ---

type parkRequest struct {
	CallID       string `json:"call_id" binding:"required"`
	CallerNumber string `json:"caller_number"`
	CalledNumber string `json:"called_number"`
	// Slot 0 takes the lowest free slot.
	Slot           int `json:"slot" binding:"min=0,max=10"`
	TimeoutSeconds int `json:"timeout_seconds" binding:"min=0"`
}

func (h Handlers) ListParked(c *gin.Context) {
	list, err := h.Park.List(c.Request.Context(), tenantID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []park.ParkedCall{}
	}
	c.JSON(http.StatusOK, gin.H{"parked_calls": list})
}

func (h Handlers) ParkCall(c *gin.Context) {
	var req parkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pc, err := h.Park.Park(c.Request.Context(), tenantID(c), park.Request{
		CallID:       req.CallID,
		CallerNumber: req.CallerNumber,
		CalledNumber: req.CalledNumber,
		Slot:         req.Slot,
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.recordPark(c, pc, "park")
	c.JSON(http.StatusCreated, pc)
}

func (h Handlers) RetrieveParked(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "slot must be a number"})
		return
	}
	pc, err := h.Park.Retrieve(c.Request.Context(), tenantID(c), slot)
	if err != nil {
		fail(c, err)
		return
	}
	h.recordPark(c, pc, "retrieve")
	c.JSON(http.StatusOK, pc)
}

func (h Handlers) recordPark(c *gin.Context, pc park.ParkedCall, action string) {
	err := h.Audit.LogPark(c.Request.Context(), tenantID(c), actor(c), pc.CallID, action, pc.Slot)
	if err != nil && !errors.Is(err, audit.ErrNotConfigured) {
		logger.FromGin(c).Warn("audit write failed", "action", action, "slot", pc.Slot, "err", err)
	}
}
