package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sidetrack/internal/apperr"
	"sidetrack/internal/database"
	"sidetrack/internal/models"
	"sidetrack/internal/repositories"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Init(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	return db
}

func newTestSessionService(t *testing.T) (SessionService, repositories.SessionRepository) {
	t.Helper()
	repo := repositories.NewSessionRepository(newTestDB(t))
	return NewSessionService(repo, NewGitService()), repo
}

// createSession provisions a session against a fresh source repository and
// registers cleanup for the workspace clone under the OS temp directory.
func createSession(t *testing.T, svc SessionService, title string) (*models.Session, string) {
	t.Helper()
	repoDir := initRepo(t)
	session, err := svc.Create(context.Background(), CreateSessionInput{
		Title:      title,
		RepoPath:   repoDir,
		BaseBranch: "master",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(session.WorkspacePath) })
	return session, repoDir
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestSessionService(t)
	session, repoDir := createSession(t, svc, "my session")

	assert.True(t, strings.HasPrefix(session.ID, "ses_"))
	assert.Len(t, session.ID, len("ses_")+16)
	assert.Equal(t, "session/"+session.ID, session.BranchName)
	assert.Equal(t, "master", session.BaseBranch)
	assert.False(t, session.IsActive)

	g := NewGitService()

	// The branch lives in the source repository but is never checked out there.
	exists, err := g.BranchExists(repoDir, session.BranchName)
	require.NoError(t, err)
	assert.True(t, exists)
	current, err := g.CurrentBranch(repoDir)
	require.NoError(t, err)
	assert.Equal(t, "master", current)

	// The workspace is an isolated clone sitting on the session branch.
	current, err = g.CurrentBranch(session.WorkspacePath)
	require.NoError(t, err)
	assert.Equal(t, session.BranchName, current)

	got, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestCreateSessionValidation(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSessionInput{Title: "  ", RepoPath: initRepo(t)})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Create(ctx, CreateSessionInput{Title: "ok", RepoPath: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Create(ctx, CreateSessionInput{Title: "ok", RepoPath: filepath.Join(t.TempDir(), "absent")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Create(ctx, CreateSessionInput{Title: "ok", RepoPath: t.TempDir()})
	assert.ErrorIs(t, err, apperr.ErrNotARepository)
}

func TestCreateSessionEmptyRepo(t *testing.T) {
	svc, _ := newTestSessionService(t)
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	// A repository with zero commits cannot host a session branch.
	_, err = svc.Create(context.Background(), CreateSessionInput{Title: "ok", RepoPath: dir, BaseBranch: "master"})
	assert.ErrorIs(t, err, apperr.ErrNoCommits)
}

func TestSwitchSession(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	a, _ := createSession(t, svc, "session a")
	b, _ := createSession(t, svc, "session b")

	switched, err := svc.Switch(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, switched.IsActive)

	switched, err = svc.Switch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, switched.IsActive)

	// Exactly one session is active after any number of switches.
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	// Switching to the already-active session is a no-op.
	switched, err = svc.Switch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, switched.IsActive)
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSwitchSessionWorkspaceMissing(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session, _ := createSession(t, svc, "doomed workspace")
	require.NoError(t, os.RemoveAll(session.WorkspacePath))

	_, err := svc.Switch(ctx, session.ID)
	assert.ErrorIs(t, err, apperr.ErrWorkspaceMissing)
}

func TestSwitchSessionNotFound(t *testing.T) {
	svc, _ := newTestSessionService(t)
	_, err := svc.Switch(context.Background(), "ses_aaaaaaaaaaaaaaaa")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteActiveSession(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	session, _ := createSession(t, svc, "to delete")
	_, err := svc.Switch(ctx, session.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, session.ID, false))

	_, err = svc.Get(ctx, session.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = os.Stat(session.WorkspacePath)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteSessionWithBranch(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session, repoDir := createSession(t, svc, "branch goes too")
	require.NoError(t, svc.Delete(ctx, session.ID, true))

	exists, err := NewGitService().BranchExists(repoDir, session.BranchName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateSession(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session, _ := createSession(t, svc, "old title")

	title := "new title"
	updated, err := svc.Update(ctx, session.ID, UpdateSessionInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)

	blank := "   "
	_, err = svc.Update(ctx, session.ID, UpdateSessionInput{Title: &blank})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetActive(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	active, err := svc.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	session, _ := createSession(t, svc, "active one")
	_, err = svc.Switch(ctx, session.ID)
	require.NoError(t, err)

	active, err = svc.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)
}

func TestRefreshGitStatus(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	session, _ := createSession(t, svc, "status check")

	status, err := svc.RefreshGitStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.BranchName, status.Branch)
	assert.True(t, status.IsClean)

	require.NoError(t, os.WriteFile(filepath.Join(session.WorkspacePath, "dirty.txt"), []byte("x\n"), 0o644))
	status, err = svc.RefreshGitStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, status.IsClean)
	assert.Equal(t, []string{"dirty.txt"}, status.Created)

	row, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Contains(t, row.GitStatusJSON, "dirty.txt")
}

// fakeVersionControl scripts branch-creation outcomes and records every call.
type fakeVersionControl struct {
	branchErrs []error
	calls      []string
	branches   []string
}

func (f *fakeVersionControl) IsRepository(string) bool {
	f.calls = append(f.calls, "IsRepository")
	return true
}

func (f *fakeVersionControl) CreateBranch(_, name, _ string) error {
	f.calls = append(f.calls, "CreateBranch")
	f.branches = append(f.branches, name)
	if len(f.branchErrs) > 0 {
		err := f.branchErrs[0]
		f.branchErrs = f.branchErrs[1:]
		return err
	}
	return nil
}

func (f *fakeVersionControl) CloneWorkspace(_, dest, _ string) error {
	f.calls = append(f.calls, "CloneWorkspace")
	return os.MkdirAll(dest, 0o755)
}

func (f *fakeVersionControl) DeleteBranch(string, string) error {
	f.calls = append(f.calls, "DeleteBranch")
	return nil
}

func (f *fakeVersionControl) Status(string) (*models.RepoStatus, error) {
	f.calls = append(f.calls, "Status")
	return &models.RepoStatus{IsClean: true}, nil
}

func TestCreateSessionRetriesBranchCollision(t *testing.T) {
	repo := repositories.NewSessionRepository(newTestDB(t))
	fake := &fakeVersionControl{branchErrs: []error{
		fmt.Errorf("branch taken: %w", apperr.ErrBranchExists),
		fmt.Errorf("branch taken: %w", apperr.ErrBranchExists),
	}}
	svc := &sessionService{sessions: repo, git: fake}

	session, err := svc.Create(context.Background(), CreateSessionInput{
		Title:    "collision prone",
		RepoPath: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(session.WorkspacePath) })

	// Each retry regenerated the id, so every attempted branch name is unique.
	require.Len(t, fake.branches, 3)
	assert.NotEqual(t, fake.branches[0], fake.branches[1])
	assert.NotEqual(t, fake.branches[1], fake.branches[2])
	assert.Equal(t, fake.branches[2], session.BranchName)
}

func TestCreateSessionCollisionRetryExhausted(t *testing.T) {
	repo := repositories.NewSessionRepository(newTestDB(t))
	fake := &fakeVersionControl{branchErrs: []error{
		fmt.Errorf("branch taken: %w", apperr.ErrBranchExists),
		fmt.Errorf("branch taken: %w", apperr.ErrBranchExists),
		fmt.Errorf("branch taken: %w", apperr.ErrBranchExists),
	}}
	svc := &sessionService{sessions: repo, git: fake}
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSessionInput{Title: "unlucky", RepoPath: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBranchExists)

	// No orphaned row survives the exhausted retry.
	sessions, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSwitchPerformsNoVersionControlIO(t *testing.T) {
	repo := repositories.NewSessionRepository(newTestDB(t))
	fake := &fakeVersionControl{}
	svc := &sessionService{sessions: repo, git: fake}
	ctx := context.Background()

	a := &models.Session{ID: "ses_aaaaaaaaaaaaaaaa", Title: "a", RepoPath: "/src", WorkspacePath: t.TempDir(), BranchName: "session/a", BaseBranch: "master", IsActive: true}
	b := &models.Session{ID: "ses_bbbbbbbbbbbbbbbb", Title: "b", RepoPath: "/src", WorkspacePath: t.TempDir(), BranchName: "session/b", BaseBranch: "master"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	switched, err := svc.Switch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, switched.IsActive)

	demoted, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsActive)

	// The switch is a pointer flip: no checkout or any other git call.
	assert.Empty(t, fake.calls)
}

func TestNewSessionIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newSessionID()
		assert.True(t, strings.HasPrefix(id, "ses_"))
		assert.Len(t, id, len("ses_")+16)
		for _, r := range strings.TrimPrefix(id, "ses_") {
			assert.Contains(t, sessionIDChars, string(r))
		}
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
