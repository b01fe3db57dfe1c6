package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kostfinder/internal/api/middleware"
	"kostfinder/internal/config"
	"kostfinder/internal/storage"
	"kostfinder/internal/tasks"
)

// ImageFormField is the multipart field POST /v1/upload reads.
const ImageFormField = "image"

// RestImageHandler serves stored images and accepts uploads.
type RestImageHandler struct {
	cfg        *config.Config
	imageStore storage.IImageStore
	taskClient IAsynqClient
	logger     *logrus.Logger
}

// NewRestImageHandler creates a new RestImageHandler.
func NewRestImageHandler(cfg *config.Config, imageStore storage.IImageStore, taskClient IAsynqClient, logger *logrus.Logger) *RestImageHandler {
	return &RestImageHandler{cfg: cfg, imageStore: imageStore, taskClient: taskClient, logger: logger}
}

// GetImage handles GET /v1/image/:id
func (h *RestImageHandler) GetImage(c *gin.Context) {
	rc, contentType, err := h.imageStore.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
			return
		}
		h.logger.WithError(err).WithField("key", c.Param("id")).Error("Failed to open image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read image"})
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// Upload handles POST /v1/upload. The image is stored as is and a
// background task normalises it afterwards.
func (h *RestImageHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile(ImageFormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Missing %q file field", ImageFormField)})
		return
	}

	maxBytes := int64(h.cfg.ImageMaxSizeMB) * 1024 * 1024
	if fileHeader.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Image exceeds %d MB", h.cfg.ImageMaxSizeMB)})
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Only image uploads are allowed"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	log := h.logger.WithFields(logrus.Fields{"user_id": c.GetString(middleware.ContextKeyUserID), "filename": fileHeader.Filename})
	result, err := h.imageStore.Upload(ctx, fileHeader.Filename, contentType, io.LimitReader(file, maxBytes))
	if err != nil {
		log.WithError(err).Error("Image upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to store image"})
		return
	}

	task, err := tasks.NewImageProcessTask(result.Key)
	if err == nil {
		_, err = h.taskClient.EnqueueContext(ctx, task)
	}
	if err != nil {
		// the upload stands; it just stays unnormalised
		log.WithError(err).WithField("key", result.Key).Error("Failed to enqueue image processing")
	}

	log.WithField("key", result.Key).Info("Image uploaded")
	c.JSON(http.StatusOK, result)
}

// Reprocess handles POST /v1/image/:id/process. It queues the image for
// normalisation again; admins only.
func (h *RestImageHandler) Reprocess(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("id")
	log := h.logger.WithFields(logrus.Fields{"user_id": c.GetString(middleware.ContextKeyUserID), "key": key})

	rc, _, err := h.imageStore.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
			return
		}
		log.WithError(err).Error("Failed to open image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read image"})
		return
	}
	_ = rc.Close()

	task, err := tasks.NewImageProcessTask(key)
	if err != nil {
		log.WithError(err).Error("Failed to build image task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue image"})
		return
	}
	info, err := h.taskClient.EnqueueContext(ctx, task)
	if err != nil {
		log.WithError(err).Error("Failed to enqueue image processing")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue image"})
		return
	}

	log.WithField("task_id", info.ID).Info("Image queued for processing")
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID})
}
