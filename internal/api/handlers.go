package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/coinrelay/internal/app"
	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/storage"
)

const recentRecords = 5

// Bot is the part of app.Bot the HTTP surface drives.
type Bot interface {
	Start(ctx context.Context) bool
	Status() app.Status
}

type Handler struct {
	bot     Bot
	store   storage.Store
	metrics *metrics.Metrics
	botCtx  context.Context // process lifetime, not the request's
	now     func() time.Time
}

// NewHandler wires the endpoints. store may be nil when it failed to open.
func NewHandler(botCtx context.Context, bot Bot, store storage.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		bot:     bot,
		store:   store,
		metrics: m,
		botCtx:  botCtx,
		now:     time.Now,
	}
}

func (h *Handler) Home(c *gin.Context) {
	st := h.bot.Status()
	c.JSON(http.StatusOK, gin.H{
		"service": "coinrelay",
		"status":  st.State(),
		"bot":     st,
	})
}

func (h *Handler) StartBot(c *gin.Context) {
	if h.bot.Start(h.botCtx) {
		slog.Info("bot started from HTTP endpoint", "remote", c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"started": true, "message": "bot started"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": false, "message": "bot is already running"})
}

func (h *Handler) DebugInfo(c *gin.Context) {
	st := h.bot.Status()
	resp := gin.H{
		"bot_status":              st.State(),
		"current_server_time_utc": h.now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	if h.store == nil {
		resp["error"] = "store unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	ctx := c.Request.Context()
	total, err := h.store.Count(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "count", "error", err)
		resp["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	recent, err := h.store.Recent(ctx, recentRecords)
	if err != nil {
		slog.Error("Database error", "operation", "recent", "error", err)
		resp["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	if recent == nil {
		recent = []storage.PostedRecord{}
	}

	resp["total_posted"] = total
	resp["last_posted"] = recent
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	stats := h.metrics.GetStats()
	st := h.bot.Status()

	healthy := h.metrics.Healthy() && !st.Degraded
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "error", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"bot":        st.State(),
		"missing":    st.Missing,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
		"stats":      stats,
	})
}
