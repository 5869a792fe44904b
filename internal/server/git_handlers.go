package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type mergeRequest struct {
	TargetBranch string `json:"targetBranch"`
}

// handleGitStatus refreshes the workspace status, persists it on the row, and
// returns it together with the source repository's branch list.
func (s *Server) handleGitStatus(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	status, err := s.sessions.RefreshGitStatus(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	branches, err := s.git.ListBranches(session.RepoPath)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "branches": branches})
}

// handleGitMerge merges the session branch into the target branch of the
// source repository. Defaults to the session's base branch.
func (s *Server) handleGitMerge(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req mergeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
	}
	target := strings.TrimSpace(req.TargetBranch)
	if target == "" {
		target = session.BaseBranch
	}

	if err := s.git.MergeBranch(session.RepoPath, session.BranchName, target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": true, "branch": session.BranchName, "targetBranch": target})
}

func (s *Server) handleGitConflicts(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	target := strings.TrimSpace(c.Query("targetBranch"))
	if target == "" {
		target = session.BaseBranch
	}
	conflicts, err := s.git.DetectConflicts(session.RepoPath, session.BranchName, target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "branch": session.BranchName, "targetBranch": target})
}

func (s *Server) handleGitDeleteBranch(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.git.DeleteBranch(session.RepoPath, session.BranchName); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
