package api

import (
	"errors"
	"net/http"

	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/gin-gonic/gin"
)

const maskedToken = "********"

type settingsController struct {
	storage settings.Storage
}

func (sc *settingsController) registerRoutes(r *gin.Engine, s ServerSettings) {
	r.GET("/api/settings/v1", func(c *gin.Context) {
		stored, loadErr := sc.storage.Load()
		if errors.Is(loadErr, settings.ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": loadErr.Error(),
			})
			return
		}
		if loadErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": loadErr.Error(),
			})
			return
		}
		if stored.Token != "" {
			stored.Token = maskedToken
		}
		c.JSON(http.StatusOK, stored)
	})

	protected := r.Group("/api/settings")
	protected.Use(RequireBasicAuth(s))

	protected.PUT("v1", func(c *gin.Context) {
		var updated settings.Settings
		if bindErr := c.ShouldBindJSON(&updated); bindErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": bindErr.Error(),
			})
			return
		}
		if saveErr := sc.storage.Save(updated); saveErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": saveErr.Error(),
			})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// NewSettingsController allows reading and replacing the persisted connection settings
func NewSettingsController(storage settings.Storage) Controller {
	return &settingsController{storage: storage}
}
