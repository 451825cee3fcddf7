package server

import (
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prethora/glowly"
)

func (h *Handler) health(c *gin.Context) {
	if !h.svc.Initialized() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "initialized": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "initialized": true})
}

func (h *Handler) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Metrics())
}

func (h *Handler) models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.svc.Models()})
}

type analyzeResponse struct {
	Result         *glowly.AnalysisResult `json:"result"`
	Recommendation *glowly.Recommendation `json:"recommendation,omitempty"`
	ArchiveID      string                 `json:"archive_id,omitempty"`
}

// analyze accepts a multipart upload in the "image" field or a raw image
// body. ?user=<id> adds a personalized recommendation.
func (h *Handler) analyze(c *gin.Context) {
	img, err := h.readImage(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	res, err := h.svc.Analyze(ctx, img)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := analyzeResponse{Result: res}
	userID := c.Query("user")
	if userID != "" {
		rec, err := h.svc.Recommend(ctx, userID, res)
		if err != nil {
			h.fail(c, err)
			return
		}
		resp.Recommendation = &rec
	}

	if h.archive != nil {
		id, err := h.archive.Save(ctx, userID, res)
		if err != nil {
			h.logger.Warn("archiving analysis failed", "error", err)
		} else {
			resp.ArchiveID = id
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) readImage(c *gin.Context) (image.Image, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("%w: missing \"image\" form field", glowly.ErrUnsuitableInput)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", glowly.ErrUnsuitableInput, err)
		}
		defer f.Close()
		r = f
	}
	return glowly.DecodeImage(r)
}

func (h *Handler) recommend(c *gin.Context) {
	var res glowly.AnalysisResult
	if err := c.ShouldBindJSON(&res); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.Recommend(c.Request.Context(), c.Param("id"), &res)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type feedbackRequest struct {
	Enhancement  string   `json:"enhancement" binding:"required"`
	Satisfaction *float64 `json:"satisfaction" binding:"required"`
	WouldReuse   bool     `json:"would_reuse"`
}

func (h *Handler) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev := glowly.FeedbackEvent{
		Enhancement:  glowly.EnhancementType(req.Enhancement),
		Satisfaction: *req.Satisfaction,
		WouldReuse:   req.WouldReuse,
		RecordedAt:   time.Now().UTC(),
	}
	if err := h.svc.RecordFeedback(c.Request.Context(), c.Param("id"), ev); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
