package optimize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"imgopt-server-go/internal/domain/archive"
	domainimage "imgopt-server-go/internal/domain/image"
	"imgopt-server-go/internal/domain/job"
	"imgopt-server-go/internal/domain/job/events"
	"imgopt-server-go/internal/domain/job/registry"
	"imgopt-server-go/internal/domain/job/runner"
	"imgopt-server-go/internal/domain/stats"
	"imgopt-server-go/internal/platform/config"
	platformerrors "imgopt-server-go/internal/platform/errors"
	"imgopt-server-go/internal/platform/logging"
	httptransport "imgopt-server-go/internal/transport/http"
	"imgopt-server-go/internal/transport/ws"
	"imgopt-server-go/internal/util/work"
)

const defaultJPEGQuality = 85

// Service exposes the optimization API: submit, snapshot, event streams,
// artifact download and server status.
type Service struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry registry.Store
	hub      *events.Hub
	runner   *runner.Runner
	counter  stats.Counter
	started  time.Time
}

// NewService wires the API handlers to the domain components.
func NewService(
	cfg *config.Config,
	logger *logging.Logger,
	reg registry.Store,
	hub *events.Hub,
	run *runner.Runner,
	counter stats.Counter,
) *Service {
	return &Service{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		hub:      hub,
		runner:   run,
		counter:  counter,
		started:  time.Now(),
	}
}

// Start registers all optimization routes on the API group.
func (s *Service) Start(_ context.Context, _ *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.POST("/optimize", s.handleSubmit)
	apiGroup.GET("/optimize/:job_id", s.handleSnapshot)
	apiGroup.GET("/optimize/:job_id/events", s.handleEvents)
	apiGroup.GET("/optimize/:job_id/ws", s.handleWebSocket)
	apiGroup.GET("/download/:artifact_id", s.handleDownload)
	apiGroup.GET("/system", s.handleSystem)

	s.logger.InfoTag("HTTP", "optimization routes registered")
	return nil
}

func (s *Service) handleSubmit(c *gin.Context) {
	if max := s.cfg.Optimize.MaxUploadBytes; max > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
	}

	fileHeader, err := c.FormFile("zip_file")
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"zip_file upload is required", gin.H{"error": err.Error()})
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := opts.Validate(); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"cannot open upload", gin.H{"error": err.Error()})
		return
	}
	payload, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"cannot read upload", gin.H{"error": err.Error()})
		return
	}

	// A malformed container is rejected here, before any job exists. An
	// openable archive without images still becomes a job; the runner fails
	// it on its event channel.
	if err := archive.ValidateContainer(payload); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest,
			"uploaded file is not a valid zip archive", nil)
		return
	}

	jobID := uuid.NewString()
	err = s.registry.Create(c.Request.Context(), job.Job{
		ID:      jobID,
		State:   job.StateRunning,
		Options: opts,
	})
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError,
			"cannot register job", nil)
		return
	}
	s.hub.Open(jobID)

	err = s.runner.Submit(runner.Batch{JobID: jobID, Archive: payload, Options: opts})
	if err == work.ErrPoolClosed {
		s.registry.Delete(c.Request.Context(), jobID)
		s.hub.Remove(jobID)
		httptransport.RespondError(c, http.StatusServiceUnavailable,
			"server is shutting down", nil)
		return
	}
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError,
			"cannot queue job", nil)
		return
	}

	s.logger.InfoTag("HTTP", "job %s accepted: %s (%d bytes)",
		jobID, fileHeader.Filename, len(payload))
	httptransport.RespondSuccess(c, http.StatusAccepted, gin.H{"job_id": jobID}, "job accepted")
}

func parseOptions(c *gin.Context) (domainimage.Options, error) {
	opts := domainimage.Options{JPEGQuality: defaultJPEGQuality}

	if raw := c.PostForm("jpeg_quality"); raw != "" {
		quality, err := strconv.Atoi(raw)
		if err != nil {
			return opts, fmt.Errorf("jpeg_quality must be an integer")
		}
		opts.JPEGQuality = quality
	}
	if raw := c.PostForm("convert_png"); raw != "" {
		convert, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("convert_png must be a boolean")
		}
		opts.ConvertPNGToJPEG = convert
	}
	if raw := c.PostForm("max_width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil {
			return opts, fmt.Errorf("max_width must be an integer")
		}
		opts.MaxWidth = width
	}
	if raw := c.PostForm("max_height"); raw != "" {
		height, err := strconv.Atoi(raw)
		if err != nil {
			return opts, fmt.Errorf("max_height must be an integer")
		}
		opts.MaxHeight = height
	}
	return opts, nil
}

func (s *Service) handleSnapshot(c *gin.Context) {
	j, err := s.registry.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindNotFound) {
			httptransport.RespondError(c, http.StatusNotFound, "job not found", nil)
			return
		}
		httptransport.RespondError(c, http.StatusInternalServerError, "registry lookup failed", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, j, "")
}

// subscribe resolves the event source for a streaming request. For a job whose
// channel was already reclaimed the terminal event is rebuilt from the
// registry snapshot so reconnecting viewers still terminate cleanly.
func (s *Service) subscribe(c *gin.Context) (*events.Subscription, events.Event, bool) {
	jobID := c.Param("job_id")

	j, err := s.registry.Get(c.Request.Context(), jobID)
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindNotFound) {
			httptransport.RespondError(c, http.StatusNotFound, "job not found", nil)
		} else {
			httptransport.RespondError(c, http.StatusInternalServerError, "registry lookup failed", nil)
		}
		return nil, nil, false
	}

	if ch, ok := s.hub.Get(jobID); ok {
		return ch.Subscribe(), nil, true
	}

	switch j.State {
	case job.StateDone:
		return nil, events.NewComplete(j.ArtifactID), true
	case job.StateFailed:
		return nil, events.NewFailed(j.FailReason), true
	default:
		return s.hub.Open(jobID).Subscribe(), nil, true
	}
}

func encodeEvent(ev events.Event) ([]byte, error) {
	return sonic.Marshal(ev)
}

func (s *Service) keepaliveEvery() time.Duration {
	if s.cfg.Optimize.KeepaliveEvery > 0 {
		return s.cfg.Optimize.KeepaliveEvery
	}
	return 10 * time.Second
}

func (s *Service) handleEvents(c *gin.Context) {
	sub, terminal, ok := s.subscribe(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	writeSSE := func(ev events.Event) bool {
		payload, err := encodeEvent(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	if terminal != nil {
		writeSSE(terminal)
		return
	}
	defer sub.Cancel()

	ticker := time.NewTicker(s.keepaliveEvery())
	defer ticker.Stop()
	clientGone := c.Request.Context().Done()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if !writeSSE(ev) {
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			if !writeSSE(events.NewKeepalive()) {
				return
			}
		case <-clientGone:
			return
		}
	}
}

func (s *Service) handleWebSocket(c *gin.Context) {
	sub, terminal, ok := s.subscribe(c)
	if !ok {
		return
	}

	rawConn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if sub != nil {
			sub.Cancel()
		}
		s.logger.WarnTag("WS", "upgrade failed: %v", err)
		return
	}
	conn := ws.NewConnection(rawConn)
	defer conn.Close()

	writeEvent := func(ev events.Event) bool {
		payload, err := encodeEvent(ev)
		if err != nil {
			return false
		}
		return conn.WriteText(payload) == nil
	}

	if terminal != nil {
		writeEvent(terminal)
		return
	}
	defer sub.Cancel()

	ticker := time.NewTicker(s.keepaliveEvery())
	defer ticker.Stop()
	peerGone := conn.WatchClose()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if !writeEvent(ev) {
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			if !writeEvent(events.NewKeepalive()) {
				return
			}
		case <-peerGone:
			return
		}
	}
}

func (s *Service) handleDownload(c *gin.Context) {
	artifactID := c.Param("artifact_id")

	j, err := s.registry.GetByArtifact(c.Request.Context(), artifactID)
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindNotFound) {
			httptransport.RespondError(c, http.StatusNotFound, "artifact not found", nil)
			return
		}
		httptransport.RespondError(c, http.StatusInternalServerError, "registry lookup failed", nil)
		return
	}
	if j.State != job.StateDone || j.ArtifactPath == "" {
		httptransport.RespondError(c, http.StatusNotFound, "artifact not found", nil)
		return
	}
	if _, err := os.Stat(j.ArtifactPath); err != nil {
		httptransport.RespondError(c, http.StatusNotFound, "artifact not found", nil)
		return
	}

	c.FileAttachment(j.ArtifactPath, artifactID+".zip")

	if s.cfg.Optimize.DeleteAfterDownload {
		s.reclaim(c.Request.Context(), j)
	}
}

func (s *Service) reclaim(ctx context.Context, j job.Job) {
	if err := os.Remove(j.ArtifactPath); err != nil && !os.IsNotExist(err) {
		s.logger.WarnTag("HTTP", "remove artifact %s: %v", j.ArtifactID, err)
	}
	if err := s.registry.Delete(ctx, j.ID); err != nil {
		s.logger.WarnTag("HTTP", "delete job %s: %v", j.ID, err)
	}
	s.hub.Remove(j.ID)
	s.logger.InfoTag("HTTP", "artifact %s reclaimed after download", j.ArtifactID)
}
