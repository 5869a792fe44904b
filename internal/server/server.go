// Package server exposes the REST and streaming boundary. Handlers stay thin:
// they parse, delegate to injected services, and map errors onto statuses.
package server

import (
	"net/http"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin"

	"sidetrack/internal/services"
)

// sessionIDPattern guards every :id route; ids that don't match the token
// shape are rejected before the lifecycle manager is reached.
var sessionIDPattern = regexp.MustCompile(`^ses_[a-z0-9]{16}$`)

type Server struct {
	engine   *gin.Engine
	sessions services.SessionService
	chat     services.ChatService
	settings services.SettingService
	models   services.ModelConfigService
	git      *services.GitService

	// One open streaming connection per session.
	streamMu sync.Mutex
	streams  map[string]struct{}
}

func New(svc *services.DbServices, git *services.GitService) *Server {
	s := &Server{
		sessions: svc.Sessions,
		chat:     svc.Chat,
		settings: svc.Settings,
		models:   svc.Models,
		git:      git,
		streams:  map[string]struct{}{},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.POST("/sessions", s.handleCreateSession)
	engine.GET("/sessions", s.handleListSessions)

	withID := engine.Group("/sessions/:id", s.requireSessionID)
	withID.GET("", s.handleGetSession)
	withID.PATCH("", s.handleUpdateSession)
	withID.DELETE("", s.handleDeleteSession)
	withID.POST("/switch", s.handleSwitchSession)
	withID.GET("/messages", s.handleListMessages)
	withID.POST("/messages", s.handleSendMessage)
	withID.GET("/git/status", s.handleGitStatus)
	withID.POST("/git/merge", s.handleGitMerge)
	withID.GET("/git/conflicts", s.handleGitConflicts)
	withID.DELETE("/git/branch", s.handleGitDeleteBranch)
	withID.GET("/stream", s.handleStream)

	engine.GET("/models", s.handleListModels)
	engine.POST("/models/toggle", s.handleToggleModel)

	engine.GET("/settings/:key", s.handleGetSetting)
	engine.PUT("/settings/:key", s.handlePutSetting)

	s.engine = engine
	return s
}

// Router returns the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) requireSessionID(c *gin.Context) {
	if !sessionIDPattern.MatchString(c.Param("id")) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "malformed session id",
		})
	}
}

// acquireStream reserves the single streaming slot for a session.
func (s *Server) acquireStream(id string) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if _, busy := s.streams[id]; busy {
		return false
	}
	s.streams[id] = struct{}{}
	return true
}

func (s *Server) releaseStream(id string) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	delete(s.streams, id)
}
