package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oremus-labs/ragmon/internal/metrics"
)

// HeartbeatEvent names the keep-alive frame on the push stream.
const HeartbeatEvent = "heartbeat"

// Stream handles GET /stream. Every stored event is sent as an unnamed
// message; a named heartbeat frame follows every HeartbeatInterval.
func (h *Handler) Stream(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed not configured"})
		return
	}
	ctx := c.Request.Context()
	feed, cancel, err := h.feed.Subscribe(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer cancel()
	defer metrics.StreamClientConnected()()

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-feed:
			if !ok {
				return
			}
			sseWrite(c.Writer, "", evt)
			c.Writer.Flush()
		case <-ticker.C:
			sseWrite(c.Writer, HeartbeatEvent, "")
			c.Writer.Flush()
		}
	}
}

// InstancesStream handles GET /api/instances/stream: the pruned instance list
// on connect and every InstancesInterval after that.
func (h *Handler) InstancesStream(c *gin.Context) {
	if h.instances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "instance registry not configured"})
		return
	}
	ctx := c.Request.Context()
	defer metrics.StreamClientConnected()()

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.opts.InstancesInterval)
	defer ticker.Stop()

	for {
		h.instances.Prune()
		sseWrite(c.Writer, "", h.instances.List())
		c.Writer.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
