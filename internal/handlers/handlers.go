// Package handlers provides HTTP request handlers for the monitoring API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/logutil"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/openapi"
	"github.com/oremus-labs/ragmon/internal/proxy"
	"github.com/oremus-labs/ragmon/internal/store"
)

// Options configures handler runtime behavior.
type Options struct {
	Version           string
	DevMode           bool
	HeartbeatInterval time.Duration
	InstancesInterval time.Duration
	CommandLimit      int
}

type eventStore interface {
	Recent() []events.StreamEvent
	Len() int
	CountsByStatus() map[string]int64
	CountsByApp() map[string]int64
	Apps() map[string]string
}

type instanceRegistry interface {
	List() []monitor.Instance
	Prune() int
}

type eventFeed interface {
	Subscribe(context.Context) (<-chan events.StreamEvent, func(), error)
	Subscribers() int
}

type samplePublisher interface {
	Target() string
	PublishSample(context.Context) (map[string]interface{}, error)
}

type commandForwarder interface {
	Forward(context.Context, proxy.Request) (*proxy.Response, error)
}

type commandLog interface {
	AppendCommand(context.Context, *store.CommandEntry) error
	ListCommands(context.Context, string, int) ([]store.CommandEntry, error)
}

// Dependencies groups the collaborators the handlers read from. Nil members
// disable the endpoints that need them.
type Dependencies struct {
	Events    eventStore
	Instances instanceRegistry
	Feed      eventFeed
	Publisher samplePublisher
	Proxy     commandForwarder
	Commands  commandLog
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	events    eventStore
	instances instanceRegistry
	feed      eventFeed
	publisher samplePublisher
	proxy     commandForwarder
	commands  commandLog
	opts      Options
	started   time.Time
	log       logutil.Logger
}

// New creates a new Handler instance.
func New(deps Dependencies, opts Options) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.InstancesInterval <= 0 {
		opts.InstancesInterval = 5 * time.Second
	}
	if opts.CommandLimit <= 0 {
		opts.CommandLimit = 50
	}
	return &Handler{
		events:    deps.Events,
		instances: deps.Instances,
		feed:      deps.Feed,
		publisher: deps.Publisher,
		proxy:     deps.Proxy,
		commands:  deps.Commands,
		opts:      opts,
		started:   time.Now(),
		log:       logutil.For("handlers"),
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ping handles GET /api/ping.
func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// Root redirects to the API document since no UI is served.
func (h *Handler) Root(c *gin.Context) {
	c.Redirect(http.StatusFound, "/openapi")
}

// OpenAPISpec serves the API document as JSON.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	data, err := openapi.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// SystemInfo reports the server version and live counters.
func (h *Handler) SystemInfo(c *gin.Context) {
	info := gin.H{
		"version": h.opts.Version,
		"devMode": h.opts.DevMode,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if h.events != nil {
		info["eventsStored"] = h.events.Len()
	}
	if h.feed != nil {
		info["streamSubscribers"] = h.feed.Subscribers()
	}
	if h.instances != nil {
		info["instances"] = len(h.instances.List())
	}
	c.JSON(http.StatusOK, info)
}

// RecentEvents handles GET /api/events/recent.
func (h *Handler) RecentEvents(c *gin.Context) {
	if !h.requireEvents(c) {
		return
	}
	evts := h.events.Recent()
	if evts == nil {
		evts = []events.StreamEvent{}
	}
	c.JSON(http.StatusOK, evts)
}

// Metrics handles GET /api/metrics: event counts by status.
func (h *Handler) Metrics(c *gin.Context) {
	if !h.requireEvents(c) {
		return
	}
	c.JSON(http.StatusOK, h.events.CountsByStatus())
}

// Apps handles GET /api/apps: the first base URL seen per app.
func (h *Handler) Apps(c *gin.Context) {
	if !h.requireEvents(c) {
		return
	}
	c.JSON(http.StatusOK, h.events.Apps())
}

// Queues handles GET /api/queues.
func (h *Handler) Queues(c *gin.Context) {
	if !h.requireEvents(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"observedApps": h.events.CountsByApp(),
		"note":         "Queue metrics integration pending",
	})
}

// Instances handles GET /api/instances.
func (h *Handler) Instances(c *gin.Context) {
	if h.instances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "instance registry not configured"})
		return
	}
	list := h.instances.List()
	if list == nil {
		list = []monitor.Instance{}
	}
	c.JSON(http.StatusOK, list)
}

// TestPublish handles POST /api/test/publish in dev mode.
func (h *Handler) TestPublish(c *gin.Context) {
	if !h.opts.DevMode {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no ingest transport configured"})
		return
	}
	payload, err := h.publisher.PublishSample(c.Request.Context())
	if err != nil {
		h.log.Error("test publish failed", err, logutil.Fields{"target": h.publisher.Target()})
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sentTo": h.publisher.Target(), "payload": payload})
}

// Proxy handles ANY /api/proxy/:app/*path.
func (h *Handler) Proxy(c *gin.Context) {
	if h.proxy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "proxy not configured"})
		return
	}
	app := c.Param("app")
	start := time.Now()
	resp, err := h.proxy.Forward(c.Request.Context(), proxy.Request{
		App:    app,
		Method: c.Request.Method,
		Path:   c.Param("path"),
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header.Clone(),
		Body:   c.Request.Body,
	})

	status := 0
	switch {
	case errors.Is(err, proxy.ErrUnknownApp):
		status = http.StatusNotFound
		c.JSON(status, gin.H{"error": "unknown app", "app": app})
	case err != nil:
		status = http.StatusBadGateway
		h.log.Warn("proxy call failed", logutil.Fields{"app": app, "path": c.Param("path"), "error": err.Error()})
		c.JSON(status, gin.H{"error": err.Error(), "app": app})
	default:
		status = resp.Status
		for name, values := range resp.Header {
			for _, v := range values {
				c.Writer.Header().Add(name, v)
			}
		}
		c.Status(status)
		_, _ = c.Writer.Write(resp.Body)
	}

	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		h.recordCommand(c, app, status, time.Since(start))
	}
}

func (h *Handler) recordCommand(c *gin.Context, app string, status int, took time.Duration) {
	if h.commands == nil {
		return
	}
	requestID, _ := c.Get("requestID")
	id, _ := requestID.(string)
	entry := &store.CommandEntry{
		App:        app,
		Method:     c.Request.Method,
		Path:       c.Param("path"),
		Status:     status,
		DurationMs: took.Milliseconds(),
		RequestID:  id,
	}
	if err := h.commands.AppendCommand(context.WithoutCancel(c.Request.Context()), entry); err != nil {
		h.log.Error("record command failed", err, logutil.Fields{"app": app})
	}
}

// ListCommands handles GET /api/commands.
func (h *Handler) ListCommands(c *gin.Context) {
	if h.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command history not configured"})
		return
	}
	limit := h.opts.CommandLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.commands.ListCommands(c.Request.Context(), c.Query("app"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []store.CommandEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": entries})
}

func (h *Handler) requireEvents(c *gin.Context) bool {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store not configured"})
		return false
	}
	return true
}
