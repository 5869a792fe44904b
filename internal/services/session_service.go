package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
	"sidetrack/internal/repositories"
	"sidetrack/internal/utils"
)

const (
	sessionIDPrefix = "ses_"
	sessionIDLength = 16
	sessionIDChars  = "abcdefghijklmnopqrstuvwxyz0123456789"

	// Bounded retry for branch-name collisions during create.
	createBranchAttempts = 3
)

type CreateSessionInput struct {
	Title      string
	RepoPath   string
	BaseBranch string
	Metadata   map[string]string
}

type UpdateSessionInput struct {
	Title    *string
	Metadata map[string]string
}

type SessionService interface {
	Create(ctx context.Context, input CreateSessionInput) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context) ([]models.Session, error)
	GetActive(ctx context.Context) (*models.Session, error)
	Update(ctx context.Context, id string, input UpdateSessionInput) (*models.Session, error)
	Delete(ctx context.Context, id string, deleteBranch bool) error
	Switch(ctx context.Context, id string) (*models.Session, error)
	RefreshGitStatus(ctx context.Context, id string) (*models.RepoStatus, error)
}

// versionControl is the slice of GitService the lifecycle manager needs.
type versionControl interface {
	IsRepository(dir string) bool
	CreateBranch(dir, name, base string) error
	CloneWorkspace(srcDir, dest, branch string) error
	DeleteBranch(dir, name string) error
	Status(dir string) (*models.RepoStatus, error)
}

type sessionService struct {
	sessions repositories.SessionRepository
	git      versionControl

	// Serializes creates so the bounded collision retry never races a
	// concurrent create against the same repository.
	createMu sync.Mutex
}

func NewSessionService(sessions repositories.SessionRepository, git *GitService) SessionService {
	return &sessionService{sessions: sessions, git: git}
}

// Create provisions branch and workspace before the row becomes durable:
// (1) create session/<id> from the base branch in the source repository,
// (2) clone the source repository into an isolated workspace on that branch,
// (3) insert the session row. A branch-name collision regenerates the
// id/branch/workspace triple and retries up to createBranchAttempts times;
// any other git failure aborts immediately.
func (s *sessionService) Create(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	title := strings.TrimSpace(input.Title)
	repoPath := strings.TrimSpace(input.RepoPath)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}
	if repoPath == "" {
		return nil, fmt.Errorf("%w: repository path is required", apperr.ErrValidation)
	}
	if !utils.DirectoryExists(repoPath) {
		return nil, fmt.Errorf("%w: %s is not a directory", apperr.ErrValidation, repoPath)
	}
	if !s.git.IsRepository(repoPath) {
		return nil, fmt.Errorf("%s: %w", repoPath, apperr.ErrNotARepository)
	}

	baseBranch := strings.TrimSpace(input.BaseBranch)
	if baseBranch == "" {
		baseBranch = "main"
	}

	metadataJSON := ""
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata is not serializable", apperr.ErrValidation)
		}
		metadataJSON = string(raw)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= createBranchAttempts; attempt++ {
		id := newSessionID()
		branch := "session/" + id
		workspace := workspacePath(id, repoPath)

		if err := s.git.CreateBranch(repoPath, branch, baseBranch); err != nil {
			if errors.Is(err, apperr.ErrBranchExists) {
				slog.Warn("session branch name collision, retrying",
					"branch", branch, "attempt", attempt)
				lastErr = err
				continue
			}
			return nil, err
		}

		if err := s.git.CloneWorkspace(repoPath, workspace, branch); err != nil {
			// Best-effort: never leave a half-materialized workspace behind.
			if rmErr := os.RemoveAll(workspace); rmErr != nil {
				slog.Warn("failed to remove partial workspace", "path", workspace, "error", rmErr)
			}
			slog.Error("workspace clone failed; branch left for manual cleanup",
				"branch", branch, "repo", repoPath, "error", err)
			return nil, fmt.Errorf("failed to materialize workspace: %w", err)
		}

		session := &models.Session{
			ID:            id,
			Title:         title,
			RepoPath:      repoPath,
			WorkspacePath: workspace,
			BranchName:    branch,
			BaseBranch:    baseBranch,
			MetadataJSON:  metadataJSON,
			IsActive:      false,
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			// Compensating action rather than a transactional rollback:
			// the branch in the source repository is not safely undoable
			// without risking user data, so it is only logged.
			if rmErr := os.RemoveAll(workspace); rmErr != nil {
				slog.Warn("failed to remove orphaned workspace", "path", workspace, "error", rmErr)
			}
			slog.Error("session insert failed; branch orphaned for manual cleanup",
				"branch", branch, "repo", repoPath, "error", err)
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}

		slog.Info("session created", "id", id, "branch", branch, "workspace", workspace)
		return session, nil
	}

	return nil, fmt.Errorf("exhausted %d attempts to find a free branch name: %w",
		createBranchAttempts, lastErr)
}

func (s *sessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *sessionService) List(ctx context.Context) ([]models.Session, error) {
	return s.sessions.List(ctx)
}

// GetActive returns the unique active session or nil. Finding more than one
// is a data-integrity anomaly that is tolerated, not propagated.
func (s *sessionService) GetActive(ctx context.Context) (*models.Session, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	if len(active) > 1 {
		slog.Warn("multiple active sessions found; using the most recent",
			"count", len(active), "chosen", active[0].ID)
	}
	return &active[0], nil
}

func (s *sessionService) Update(ctx context.Context, id string, input UpdateSessionInput) (*models.Session, error) {
	updates := map[string]interface{}{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be blank", apperr.ErrValidation)
		}
		updates["title"] = title
	}
	if input.Metadata != nil {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata is not serializable", apperr.ErrValidation)
		}
		updates["metadata_json"] = string(raw)
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := s.sessions.UpdateByID(ctx, id, updates); err != nil {
			return nil, err
		}
	}
	return s.sessions.GetByID(ctx, id)
}

// Delete removes the session. Workspace and branch cleanup are best-effort;
// the row (and, via cascade, its messages) is always removed last.
func (s *sessionService) Delete(ctx context.Context, id string, deleteBranch bool) error {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if session.IsActive {
		if err := s.sessions.ClearActive(ctx, id); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(session.WorkspacePath); err != nil {
		slog.Warn("failed to remove session workspace",
			"id", id, "path", session.WorkspacePath, "error", err)
	}

	if deleteBranch {
		if err := s.git.DeleteBranch(session.RepoPath, session.BranchName); err != nil {
			slog.Warn("failed to delete session branch",
				"id", id, "branch", session.BranchName, "error", err)
		}
	}

	return s.sessions.DeleteByID(ctx, id)
}

// Switch makes the target session active. The workspace is already on the
// right branch from creation time, so no checkout happens in the source
// repository; switching is a pointer flip plus a workspace-existence check.
func (s *sessionService) Switch(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsActive {
		return session, nil
	}
	if !utils.DirectoryExists(session.WorkspacePath) {
		return nil, fmt.Errorf("session %s at %s: %w", id, session.WorkspacePath, apperr.ErrWorkspaceMissing)
	}
	if err := s.sessions.SetActive(ctx, id); err != nil {
		return nil, err
	}
	session.IsActive = true
	slog.Info("active session switched", "id", id)
	return session, nil
}

// RefreshGitStatus recomputes the workspace status and persists it on the row.
func (s *sessionService) RefreshGitStatus(ctx context.Context, id string) (*models.RepoStatus, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := s.git.Status(session.WorkspacePath)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("failed to encode git status: %w", err)
	}
	if err := s.sessions.UpdateByID(ctx, id, map[string]interface{}{
		"git_status_json": string(raw),
		"updated_at":      time.Now(),
	}); err != nil {
		return nil, err
	}
	return status, nil
}

func newSessionID() string {
	buf := make([]byte, sessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = sessionIDChars[int(b)%len(sessionIDChars)]
	}
	return sessionIDPrefix + string(buf)
}

// workspacePath derives the isolated clone location under the process temp
// directory, namespaced by session id and repository basename.
func workspacePath(id, repoPath string) string {
	return filepath.Join(os.TempDir(), "sidetrack", id+"-"+filepath.Base(repoPath))
}
