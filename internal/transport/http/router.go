package httpapi

import (
	"net/http"
	"strconv"

	"hedgepair/internal/analyzer"
	"hedgepair/internal/engine"
	"hedgepair/internal/executor"
	"hedgepair/internal/market"
	"hedgepair/internal/store"
	"hedgepair/internal/store/oplog"

	"github.com/gin-gonic/gin"
)

// Router exposes the operator endpoints.
type Router struct {
	Engine   *engine.Engine
	Exec     *executor.Executor
	Analyzer *analyzer.Analyzer
	Store    store.Store
	Ops      *oplog.Store
	Feed     market.Feed
}

// Register mounts the API under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/log", r.handleLog)
	group.GET("/orders", r.handleOrders)
	group.GET("/snapshots", r.handleSnapshots)
	group.GET("/report", r.handleReport)
	group.GET("/report/chart", r.handleReportChart)
	group.POST("/control/start", r.handleStart)
	group.POST("/control/stop", r.handleStop)
	group.POST("/pairs/:id/ack", r.handleAck)
}

func (r *Router) handleStatus(c *gin.Context) {
	status, err := r.Engine.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"lifecycle": status.Lifecycle,
		"pairs":     status.Pairs,
		"breaker":   r.Exec.Breaker().CurrentState().String(),
	}
	if r.Feed != nil {
		resp["feed"] = r.Feed.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleLog(c *gin.Context) {
	q := oplog.Query{
		PairID: c.Query("pair"),
		Level:  c.Query("level"),
		Limit:  intQuery(c, "limit", 100),
		Offset: intQuery(c, "offset", 0),
	}
	entries, err := r.Ops.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (r *Router) handleOrders(c *gin.Context) {
	orders, err := r.Store.RecentOrders(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleSnapshots(c *gin.Context) {
	snaps, err := r.Store.Snapshots(c.Request.Context(), intQuery(c, "limit", 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (r *Router) handleReport(c *gin.Context) {
	rep, err := r.Analyzer.Build(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (r *Router) handleReportChart(c *gin.Context) {
	snaps, err := r.Store.Snapshots(c.Request.Context(), intQuery(c, "limit", 2000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := analyzer.RenderEquityHTML(c.Writer, snaps); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.Engine.Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.Engine.Pause(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (r *Router) handleAck(c *gin.Context) {
	pairID := c.Param("id")
	if err := r.Engine.Ack(c.Request.Context(), pairID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": pairID, "acked": true})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
