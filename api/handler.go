package api

import (
	"net/http"

	"downly/config"
	"downly/pipeline"
	"downly/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	manager *task.Manager
	cfg     *config.Config
}

func NewHandler(m *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		manager: m,
		cfg:     cfg,
	}
}

type ProcessRequest struct {
	URL                 string `json:"url" binding:"required,url"`
	Format              string `json:"format" binding:"required"`
	Quality             string `json:"quality" binding:"required"`
	TrimStart           string `json:"trim_start"`
	TrimEnd             string `json:"trim_end"`
	SelectedVideoFormat string `json:"selected_video_format"`
	SelectedAudioFormat string `json:"selected_audio_format"`
}

type InfoRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// audioFormats is the accepted set for audio jobs; anything else becomes mp3.
var audioFormats = map[string]bool{"mp3": true, "m4a": true, "ogg": true, "wav": true}

// handleProcessVideo accepts a video job and returns its identifier
// immediately; the pipeline runs in the background.
func (h *Handler) handleProcessVideo(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := h.manager.Submit(task.Job{
		URL:                 req.URL,
		Kind:                task.KindVideo,
		Format:              req.Format,
		Quality:             req.Quality,
		TrimStart:           req.TrimStart,
		TrimEnd:             req.TrimEnd,
		SelectedVideoFormat: req.SelectedVideoFormat,
		SelectedAudioFormat: req.SelectedAudioFormat,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": j.ID,
		"status":  task.StatePending,
		"message": "Video processing started",
	})
}

// handleProcessAudio accepts an audio job. Unsupported output formats are
// coerced to mp3 before the job is created.
func (h *Handler) handleProcessAudio(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := req.Format
	if !audioFormats[format] {
		format = "mp3"
	}

	j, err := h.manager.Submit(task.Job{
		URL:                 req.URL,
		Kind:                task.KindAudio,
		Format:              format,
		Quality:             req.Quality,
		TrimStart:           req.TrimStart,
		TrimEnd:             req.TrimEnd,
		SelectedAudioFormat: req.SelectedAudioFormat,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": j.ID,
		"status":  task.StatePending,
		"message": "Audio processing started",
	})
}

// handleGetTaskStatus returns the current status snapshot for a job.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	st, found := h.manager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleMediaInfo probes a URL for its available streams. It always answers
// with something usable, degrading to a minimal record on probe failure.
func (h *Handler) handleMediaInfo(c *gin.Context) {
	var req InfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pipeline.FetchInfo(c.Request.Context(), h.cfg, req.URL))
}
