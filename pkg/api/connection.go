package api

import (
	"errors"
	"net/http"

	"github.com/breathlink/breathlink/pkg/driver"
	"github.com/breathlink/breathlink/pkg/failure"
	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/gin-gonic/gin"
)

// Connection is the part of link.Handle exposed over the API
type Connection interface {
	Open(address, token string) error
	Disconnect()
	ID() string
	State() driver.State
	IsOpen() bool
	LastError() *failure.ClassifiedError
	LatestInbound() map[string]any
	StageOutbound(map[string]any) map[string]any
	SendSignal() bool
}

// ConnectionStatus is returned by GET /api/connection/v1
type ConnectionStatus struct {
	ID        string                   `json:"id"`
	Open      bool                     `json:"open"`
	State     driver.State             `json:"state"`
	LastError *failure.ClassifiedError `json:"last_error"`
}

type connectionController struct {
	connection Connection
	settings   settings.Storage
}

func (cc *connectionController) status() ConnectionStatus {
	return ConnectionStatus{
		ID:        cc.connection.ID(),
		Open:      cc.connection.IsOpen(),
		State:     cc.connection.State(),
		LastError: cc.connection.LastError(),
	}
}

func (cc *connectionController) open(c *gin.Context) {
	var requested settings.Settings
	if c.Request.ContentLength != 0 {
		if bindErr := c.ShouldBindJSON(&requested); bindErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": bindErr.Error(),
			})
			return
		}
	}
	stored, loadErr := cc.settings.Load()
	if loadErr != nil && !errors.Is(loadErr, settings.ErrNotConfigured) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": loadErr.Error(),
		})
		return
	}
	merged := requested.Merge(stored)
	if merged.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "server address is not configured",
		})
		return
	}
	if openErr := cc.connection.Open(merged.Address, merged.Token); openErr != nil {
		c.JSON(http.StatusBadRequest, failure.Classify(openErr))
		return
	}
	c.JSON(http.StatusAccepted, cc.status())
}

func (cc *connectionController) registerRoutes(r *gin.Engine, s ServerSettings) {
	r.GET("/api/connection/v1", func(c *gin.Context) {
		c.JSON(http.StatusOK, cc.status())
	})

	r.GET("/api/inbound/v1", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data": cc.connection.LatestInbound(),
		})
	})

	protected := r.Group("/api")
	protected.Use(RequireBasicAuth(s))

	protected.POST("connection/v1", cc.open)

	protected.DELETE("connection/v1", func(c *gin.Context) {
		cc.connection.Disconnect()
		c.Status(http.StatusNoContent)
	})

	protected.POST("outbound/v1", func(c *gin.Context) {
		var payload map[string]any
		if bindErr := c.ShouldBindJSON(&payload); bindErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": bindErr.Error(),
			})
			return
		}
		if !cc.connection.IsOpen() {
			c.JSON(http.StatusConflict, gin.H{
				"error": "connection is not open",
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"inbound": cc.connection.StageOutbound(payload),
		})
	})

	protected.POST("signal/v1", func(c *gin.Context) {
		if !cc.connection.SendSignal() {
			c.JSON(http.StatusConflict, gin.H{
				"error": "connection is not open",
			})
			return
		}
		c.Status(http.StatusAccepted)
	})
}

// NewConnectionController allows inspecting and driving the connection to the relay server
func NewConnectionController(connection Connection, storage settings.Storage) Controller {
	return &connectionController{connection: connection, settings: storage}
}
