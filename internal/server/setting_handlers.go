package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type putSettingRequest struct {
	Value string `json:"value"`
	Scope string `json:"scope"`
}

type toggleModelRequest struct {
	Key     string `json:"key" binding:"required"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleGetSetting(c *gin.Context) {
	setting, err := s.settings.Get(c.Request.Context(), c.Query("scope"), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setting": setting})
}

func (s *Server) handlePutSetting(c *gin.Context) {
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	setting, err := s.settings.Set(c.Request.Context(), req.Scope, c.Param("key"), req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setting": setting})
}

func (s *Server) handleListModels(c *gin.Context) {
	groups, err := s.models.ListModelGroups(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": groups})
}

func (s *Server) handleToggleModel(c *gin.Context) {
	var req toggleModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	model, err := s.models.SetModelEnabled(c.Request.Context(), req.Key, req.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": model})
}
