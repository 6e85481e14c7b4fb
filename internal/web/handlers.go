package web

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/health"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/storage"
	"github.com/pipatrol/patrol/internal/web/streaming"
)

const maxEventsLimit = 500

var errNoFrame = errors.New("no live frame available")

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not available"})
}

// handleHealth returns the health report. Unhealthy answers 503.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  health.StatusHealthy,
			"service": s.Name(),
		})
		return
	}

	report := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// unixSeconds renders t as fractional unix seconds, 0 for the zero time
func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

// handleStatus returns the current label, the preview flag and the time of
// the last frame in unix seconds (0 before the first frame)
func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Broker == nil {
		unavailable(c, "Frame broker")
		return
	}

	st := s.deps.Broker.Status()
	label := st.CurrentLabel
	if label == "" {
		label = face.Unknown
	}
	lastFrame := unixSeconds(st.LastFrameTime)

	resp := gin.H{
		"current_label":   label,
		"live_preview":    st.LivePreview,
		"last_frame_time": lastFrame,
		"uptime":          time.Since(s.startTime).Round(time.Second).String(),
		"version":         s.version,
	}
	if s.deps.Motion != nil {
		resp["motion_state"] = s.deps.Motion.State()
		resp["last_motion"] = unixSeconds(s.deps.Motion.LastMotion())
	}
	if s.stream != nil {
		resp["stream_clients"] = s.stream.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

type togglePreviewRequest struct {
	Enable bool `json:"enable"`
}

// handleTogglePreview sets the preview flag; a missing field turns it off
func (s *Server) handleTogglePreview(c *gin.Context) {
	if s.deps.Broker == nil {
		unavailable(c, "Frame broker")
		return
	}

	var req togglePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	s.deps.Broker.SetPreview(req.Enable)
	c.JSON(http.StatusOK, gin.H{"live_preview": s.deps.Broker.PreviewEnabled()})
}

// handleLive streams the preview as MJPEG until the client disconnects
func (s *Server) handleLive(c *gin.Context) {
	if s.stream == nil {
		unavailable(c, "Streaming service")
		return
	}

	c.Header("Content-Type", streaming.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	// a write error only means this client is gone
	_ = s.stream.Serve(c.Request.Context(), c.Writer, c.Writer.Flush)
}

// handleMedia serves live.jpg and files from the events and recordings dirs
func (s *Server) handleMedia(c *gin.Context) {
	name := c.Param("file")

	if name == "live.jpg" {
		if s.deps.Broker == nil || s.deps.Broker.LivePath() == "" {
			c.String(http.StatusNotFound, "No live frame")
			return
		}
		path := s.deps.Broker.LivePath()
		if _, err := os.Stat(path); err != nil {
			c.String(http.StatusNotFound, "No live frame")
			return
		}
		c.Header("Cache-Control", "no-store")
		c.File(path)
		return
	}

	if s.deps.Media == nil {
		unavailable(c, "Media storage")
		return
	}
	path, err := s.deps.Media.ResolveMedia(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.File(path)
}

// handleEnroll stores the current raw frame as a corpus sample for the
// person named in the form. It does not retrain.
func (s *Server) handleEnroll(c *gin.Context) {
	if s.deps.Faces == nil {
		unavailable(c, "Face service")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing name"})
		return
	}

	data, err := s.enrollFrame()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	filename, err := s.deps.Faces.Enroll(name, data)
	switch {
	case errors.Is(err, face.ErrMissingName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing name"})
		return
	case errors.Is(err, face.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name has no usable characters"})
		return
	case err != nil:
		s.LogError("Enrollment failed", err, "name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save face sample"})
		return
	}

	s.LogInfo("Enrolled new face", "name", name, "file", filename)
	s.PublishEvent(service.EventTypeFaceEnrolled, map[string]interface{}{
		"name":     name,
		"filename": filename,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": filename})
}

// enrollFrame returns the broker's raw frame as JPEG, or the live file
// when nothing is in memory
func (s *Server) enrollFrame() ([]byte, error) {
	if s.deps.Broker == nil {
		return nil, errNoFrame
	}

	if snap, ok := s.deps.Broker.Snapshot(); ok {
		if snap.Raw == nil {
			return snap.JPEG, nil
		}
		quality := storage.DefaultJPEGQuality
		if s.deps.Media != nil {
			quality = s.deps.Media.JPEGQuality()
		}
		return storage.EncodeJPEG(snap.Raw, quality)
	}

	path := s.deps.Broker.LivePath()
	if path == "" {
		return nil, errNoFrame
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, errNoFrame
	}
	return data, nil
}

// handleTrain retrains the model from the corpus and installs it
func (s *Server) handleTrain(c *gin.Context) {
	if s.deps.Faces == nil {
		unavailable(c, "Face service")
		return
	}

	result, err := s.deps.Faces.Train(c.Request.Context(), nil)
	if err != nil {
		s.LogError("Training failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Training failed: " + err.Error()})
		return
	}

	s.PublishEvent(service.EventTypeModelTrained, map[string]interface{}{
		"labels":  result.Labels,
		"samples": result.Samples,
	})
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"labels":   result.Labels,
		"samples":  result.Samples,
		"skipped":  result.Skipped,
		"duration": result.Duration.String(),
	})
}

// handleModel describes the installed model
func (s *Server) handleModel(c *gin.Context) {
	if s.deps.Faces == nil {
		unavailable(c, "Face service")
		return
	}
	c.JSON(http.StatusOK, s.deps.Faces.Info())
}

// handleListEvents returns the latest rows, newest first, as a bare array.
// The total row count is in X-Total-Count.
func (s *Server) handleListEvents(c *gin.Context) {
	if s.deps.Events == nil {
		unavailable(c, "Event store")
		return
	}

	opts := events.ListOptions{
		EventType:  c.Query("event_type"),
		PersonName: c.Query("person"),
		Limit:      s.config.EventsLimit,
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			opts.Limit = min(limit, maxEventsLimit)
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			opts.Offset = offset
		}
	}
	if sinceStr := c.Query("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			opts.Since = since
		}
	}

	rows, total, err := s.deps.Events.ListEvents(c.Request.Context(), opts)
	if err != nil {
		s.LogError("Failed to list events", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}
	if rows == nil {
		rows = []*events.Event{}
	}

	c.Header("X-Total-Count", strconv.Itoa(total))
	c.JSON(http.StatusOK, rows)
}

// handleGetEvent returns one event by id
func (s *Server) handleGetEvent(c *gin.Context) {
	if s.deps.Events == nil {
		unavailable(c, "Event store")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event id"})
		return
	}

	event, err := s.deps.Events.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get event", err, "event_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// handleWebSocket hands the connection to the event hub
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.deps.Hub == nil {
		unavailable(c, "Event hub")
		return
	}
	s.deps.Hub.ServeHTTP(c.Writer, c.Request)
}
