package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/assessment"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/progress"
	"github.com/gin-gonic/gin"
)

// progressBuffer holds every transition of one fetch with room to spare.
const progressBuffer = 32

// AssessmentRequest starts an assessment. All fields are optional.
type AssessmentRequest struct {
	RealmID    string `json:"realm_id"`
	WindowDays int    `json:"window_days"`
	// AsOf is a YYYY-MM-DD date.
	AsOf string `json:"as_of"`
}

type runOutcome struct {
	result *models.AssessmentResult
	err    error
}

func (s *Server) handleAssessment(c *gin.Context) {
	var body AssessmentRequest
	if err := c.ShouldBindJSON(&body); err != nil && !stderrors.Is(err, io.EOF) {
		badRequest(c, "request body must be a JSON object")
		return
	}
	req := assessment.Request{UserID: UserID(c), RealmID: body.RealmID, WindowDays: body.WindowDays}
	if asOf := strings.TrimSpace(body.AsOf); asOf != "" {
		t, err := models.ParseDate(asOf)
		if err != nil {
			badRequest(c, "as_of must be a YYYY-MM-DD date")
			return
		}
		req.AsOf = t
	}
	if req.WindowDays < 0 || req.WindowDays > models.MaxWindowDays {
		badRequest(c, "window_days is out of range")
		return
	}

	if c.Query("stream") == "1" || c.Query("stream") == "true" {
		s.streamAssessment(c, req)
		return
	}

	result, err := s.assessor.Run(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, "assessment", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// streamAssessment sends each report transition as a "progress" event,
// then one "result" or "error" event.
func (s *Server) streamAssessment(c *gin.Context, req assessment.Request) {
	ctx := c.Request.Context()
	b := progress.NewBroadcaster()
	events, cancel := b.Subscribe(progressBuffer)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		result, err := s.assessor.Run(ctx, req, b)
		done <- runOutcome{result: result, err: err}
		b.Close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			c.SSEvent("progress", ev)
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
		case <-ctx.Done():
			s.logger.InfoWithContext(ctx, "assessment stream closed by client")
			return
		}
		c.Writer.Flush()
	}

	out := <-done
	if out.err != nil {
		status, resp := newErrorResponse(out.err)
		s.logger.WarnWithContext(ctx, "streamed assessment failed", "error", out.err.Error(), "code", resp.Error, "status", status)
		c.SSEvent("error", resp)
	} else {
		c.SSEvent("result", out.result)
	}
	c.Writer.Flush()
}
