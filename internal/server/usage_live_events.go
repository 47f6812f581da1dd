package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/smallbiznis/quotaflow/internal/usage/liveevents"
)

const liveHeartbeatInterval = 15 * time.Second

// StreamUsageLiveEvents pushes usage events tracked for the resolved subject
// as server-sent events, starting with the recent backlog. eventType and
// quotaType narrow the stream.
func (s *Server) StreamUsageLiveEvents(c *gin.Context) {
	if s.liveEvents == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	subj, err := s.resolveSubject(c, c.Query("organizationId"), authorization.ObjectUsage, authorization.ActionUsageView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter, err := liveFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, backlog, err := s.liveEvents.Subscribe(subj, filter)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	for _, event := range backlog {
		if err := writeLiveUsageEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(liveHeartbeatInterval)
	defer heartbeat.Stop()
	var reportedDrops int64

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			if err := writeLiveUsageEvent(writer, event); err != nil {
				return
			}
			if dropped := subscription.Dropped(); dropped > reportedDrops {
				if err := writeLiveLagged(writer, dropped-reportedDrops); err != nil {
					return
				}
				reportedDrops = dropped
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func liveFilterFromQuery(c *gin.Context) (liveevents.Filter, error) {
	var filter liveevents.Filter
	if raw := strings.TrimSpace(c.Query("eventType")); raw != "" {
		if !usagedomain.EventType(raw).Valid() {
			return filter, usagedomain.ErrInvalidEventType
		}
		filter.EventType = raw
	}
	if raw := strings.TrimSpace(c.Query("quotaType")); raw != "" {
		quotaType, err := quotadomain.ParseQuotaType(raw)
		if err != nil {
			return filter, err
		}
		filter.QuotaType = string(quotaType)
	}
	return filter, nil
}

// writeLiveLagged tells a slow client how many events it missed.
func writeLiveLagged(w io.Writer, missed int64) error {
	_, err := fmt.Fprintf(w, "event: lagged\ndata: {\"missed\":%d}\n\n", missed)
	return err
}

func writeLiveUsageEvent(w io.Writer, event liveevents.LiveEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: usage\ndata: %s\n\n", data)
	return err
}
