package api

import (
	"downly/config"
	"downly/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(m *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	r.Use(CORSMiddleware(cfg))
	h := NewHandler(m, cfg)

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "Welcome to the Downly video downloader API"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.POST("/video/info", h.handleMediaInfo)
	r.POST("/video/process", h.handleProcessVideo)
	r.POST("/audio/process", h.handleProcessAudio)
	r.GET("/task/:taskId", h.handleGetTaskStatus)

	// Finished files are served straight off the processed directory; the
	// download_url in a completed record points under this prefix.
	r.Static("/downloads", cfg.ProcessedDir)

	return r
}
