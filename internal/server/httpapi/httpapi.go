package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fatalmerlin/dnssync/internal/server/db"
	"github.com/fatalmerlin/dnssync/internal/server/eventbus"
	"github.com/fatalmerlin/dnssync/internal/server/reconciler"
	reconcilerevents "github.com/fatalmerlin/dnssync/internal/server/reconciler/events"
)

// ZoneInfo describes the DNS target the daemon reconciles against; it is
// reported by the status endpoint.
type ZoneInfo struct {
	Server   string `json:"server"`
	Zone     string `json:"zone"`
	TargetIP string `json:"target_ip"`
	Interval string `json:"interval"`
}

// New constructs the HTTP API router backed by the reconciliation engine.
func New(logger *slog.Logger, engine reconciler.Engine, bus eventbus.Bus, zone ZoneInfo) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	if cidr := os.Getenv("API_ALLOW_CIDR"); cidr != "" {
		allowList := strings.Split(cidr, ",")
		r.Use(ipFilterMiddleware(logger, allowList))
	}

	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		r.Use(apiKeyMiddleware(apiKey))
	}

	api := &apiServer{logger: logger, engine: engine, bus: bus, zone: zone}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/system/status", api.systemStatus)
		v1.POST("/sync", api.triggerSync)

		records := v1.Group("/records")
		{
			records.GET("", api.listRecords)
			records.GET(":hostname", api.getRecord)
			records.DELETE(":hostname", api.retireRecord)
		}

		events := v1.Group("/events")
		{
			events.GET("/records", api.streamRecordEvents)
		}
	}

	r.GET("/ws/v1/events", api.recordEventsWebSocket)

	return r
}

// requestLogger adapts slog to Gin's middleware interface.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		args := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("latency", latency.String()),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			args = append(args, slog.String("error", c.Errors.String()))
			logger.Error("http request", args...)
		} else {
			logger.Info("http request", args...)
		}
	}
}

func ipFilterMiddleware(logger *slog.Logger, cidrs []string) gin.HandlerFunc {
	var networks []*net.IPNet
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			logger.Warn("invalid CIDR", "cidr", raw, "error", err)
			continue
		}
		networks = append(networks, network)
	}
	if len(networks) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid client IP"})
			return
		}
		for _, network := range networks {
			if network.Contains(ip) {
				c.Next()
				return
			}
		}
		logger.Warn("request blocked by CIDR filter", "ip", ip.String())
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}

func apiKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			provided = c.Query("api_key")
		}
		if provided != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

type apiServer struct {
	logger *slog.Logger
	engine reconciler.Engine
	bus    eventbus.Bus
	zone   ZoneInfo
}

type recordResponse struct {
	Hostname string `json:"hostname"`
	Router   string `json:"router"`
}

func recordToResponse(rec db.Record) recordResponse {
	return recordResponse{Hostname: rec.Hostname, Router: rec.Router}
}

func (api *apiServer) systemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"zone":   api.zone,
		"status": api.engine.Status(),
	})
}

func (api *apiServer) triggerSync(c *gin.Context) {
	api.engine.TriggerSync()
	c.JSON(http.StatusAccepted, gin.H{"status": "sync scheduled"})
}

func (api *apiServer) listRecords(c *gin.Context) {
	records, err := api.engine.ListRecords(c.Request.Context())
	if err != nil {
		api.logger.Error("list records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, recordToResponse(rec))
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) getRecord(c *gin.Context) {
	hostname := c.Param("hostname")
	rec, err := api.engine.GetRecord(c.Request.Context(), hostname)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		api.logger.Error("get record", "hostname", hostname, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch record"})
		return
	}
	c.JSON(http.StatusOK, recordToResponse(*rec))
}

func (api *apiServer) retireRecord(c *gin.Context) {
	hostname := c.Param("hostname")
	if err := api.engine.RetireRecord(c.Request.Context(), hostname); err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		api.logger.Error("retire record", "hostname", hostname, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *apiServer) streamRecordEvents(c *gin.Context) {
	if api.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming not available"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	ctx := c.Request.Context()
	eventsCh := make(chan any, 16)
	unsubscribe, err := api.bus.Subscribe(reconcilerevents.TopicRecordEvents, eventsCh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-eventsCh:
			if payload == nil {
				continue
			}
			event, ok := payload.(reconcilerevents.RecordEvent)
			if !ok {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				api.logger.Error("marshal record event", "error", err)
				continue
			}
			if _, err := c.Writer.Write([]byte("event: " + event.Type + "\n")); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (api *apiServer) recordEventsWebSocket(c *gin.Context) {
	if api.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming not available"})
		return
	}

	conn, err := (&websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}).Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Error("events ws upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	eventsCh := make(chan any, 16)
	unsubscribe, err := api.bus.Subscribe(reconcilerevents.TopicRecordEvents, eventsCh)
	if err != nil {
		api.logger.Error("events ws subscribe", "error", err)
		return
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-eventsCh:
			event, ok := payload.(reconcilerevents.RecordEvent)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
