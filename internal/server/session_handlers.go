package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sidetrack/internal/services"
)

type createSessionRequest struct {
	Title         string            `json:"title" binding:"required"`
	RootDirectory string            `json:"rootDirectory" binding:"required"`
	BaseBranch    string            `json:"baseBranch"`
	Metadata      map[string]string `json:"metadata"`
}

type updateSessionRequest struct {
	Title    *string           `json:"title"`
	Metadata map[string]string `json:"metadata"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	session, err := s.sessions.Create(c.Request.Context(), services.CreateSessionInput{
		Title:      req.Title,
		RepoPath:   req.RootDirectory,
		BaseBranch: req.BaseBranch,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	session, err := s.sessions.Update(c.Request.Context(), c.Param("id"), services.UpdateSessionInput{
		Title:    req.Title,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	deleteBranch, _ := strconv.ParseBool(c.DefaultQuery("deleteGitBranch", "false"))
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id"), deleteBranch); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSwitchSession(c *gin.Context) {
	session, err := s.sessions.Switch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleListMessages(c *gin.Context) {
	messages, err := s.chat.LoadHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// handleSendMessage is the non-streaming chat path.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	result, err := s.chat.SendMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
