// Package api exposes the coordinator's status surface: run history backed
// by the optional Postgres store and a websocket stream of round progress.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shardsafe/kanon-engine/internal/db"
)

type handler struct {
	store *db.PostgresStore
	hub   *Hub
}

// SetupRouter wires the status API. The store may be nil (no persistence
// configured); the affected endpoints then answer 503.
func SetupRouter(store *db.PostgresStore, hub *Hub) *gin.Engine {
	r := gin.Default()
	h := &handler{store: store, hub: hub}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "persistence": store != nil})
	})

	r.GET("/ws/progress", hub.Subscribe)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware())
	{
		v1.GET("/runs", h.listRuns)
		v1.GET("/runs/:id/rows", h.runRows)
	}

	return r
}

func (h *handler) listRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run persistence not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handler) runRows(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run persistence not configured"})
		return
	}
	rows, err := h.store.GetRunRows(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}
