// Package api contains the local HTTP API used for inspecting and driving the connection
package api

import (
	"github.com/gin-gonic/gin"
)

// Controller contains a set of functionalities for the API
type Controller interface {
	registerRoutes(r *gin.Engine, s ServerSettings)
}

// ServerSettings configures the API engine
type ServerSettings struct {
	Debug             bool
	BasicAuthEnabled  bool
	BasicAuthUsername string
	BasicAuthPassword string
}

// WithDebug enables gin debug mode
func (s ServerSettings) WithDebug(debug bool) ServerSettings {
	s.Debug = debug
	return s
}

// WithBasicAuth enables state-changing endpoints, guarded by the given credentials
func (s ServerSettings) WithBasicAuth(username, password string) ServerSettings {
	s.BasicAuthEnabled = true
	s.BasicAuthUsername = username
	s.BasicAuthPassword = password
	return s
}

// NewServerSettings returns settings with state-changing endpoints disabled
func NewServerSettings() ServerSettings {
	return ServerSettings{}
}

// NewAdminAPI bootstraps the creation of the gin engine
func NewAdminAPI(controllers []Controller, s ServerSettings) *gin.Engine {
	if !s.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if s.Debug {
		r.Use(gin.Logger())
	}
	for _, controller := range controllers {
		controller.registerRoutes(r, s)
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Keep breathing.",
		})
	})
	return r
}
