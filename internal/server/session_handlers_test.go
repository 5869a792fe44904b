package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidetrack/internal/database"
	"sidetrack/internal/models"
	"sidetrack/internal/services"
)

func newAPITestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := database.Init(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)

	git := services.NewGitService()
	svc := services.NewDbServices(db, git, services.NewKeyringService(), "anthropic/claude-sonnet-4-20250514")
	ts := httptest.NewServer(New(svc, git).Router())
	t.Cleanup(ts.Close)
	return ts
}

func initSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	payload := map[string]json.RawMessage{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	}
	return resp, payload
}

func createSessionHTTP(t *testing.T, ts *httptest.Server, repoDir, title string) models.Session {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]string{
		"title":         title,
		"rootDirectory": repoDir,
		"baseBranch":    "master",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session models.Session
	require.NoError(t, json.Unmarshal(payload["session"], &session))
	t.Cleanup(func() { _ = os.RemoveAll(session.WorkspacePath) })
	return session
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newAPITestServer(t)
	repoDir := initSourceRepo(t)

	session := createSessionHTTP(t, ts, repoDir, "http session")
	assert.Equal(t, "session/"+session.ID, session.BranchName)
	assert.False(t, session.IsActive)
	assert.DirExists(t, session.WorkspacePath)

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.Session
	require.NoError(t, json.Unmarshal(payload["session"], &fetched))
	assert.Equal(t, session.ID, fetched.ID)

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []models.Session
	require.NoError(t, json.Unmarshal(payload["sessions"], &sessions))
	assert.Len(t, sessions, 1)

	resp, payload = doJSON(t, http.MethodPatch, ts.URL+"/sessions/"+session.ID, map[string]string{"title": "renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload["session"], &fetched))
	assert.Equal(t, "renamed", fetched.Title)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+session.ID+"?deleteGitBranch=true", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	exists, err := services.NewGitService().BranchExists(repoDir, session.BranchName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateSessionHTTPValidation(t *testing.T) {
	ts := newAPITestServer(t)

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]string{"title": "no root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(payload["error"]), "validation_error")

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/sessions", map[string]string{
		"title":         "not a repo",
		"rootDirectory": t.TempDir(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(payload["error"]), "not_a_repository")
}

func TestSwitchSessionOverHTTP(t *testing.T) {
	ts := newAPITestServer(t)
	repoDir := initSourceRepo(t)

	a := createSessionHTTP(t, ts, repoDir, "session a")
	b := createSessionHTTP(t, ts, repoDir, "session b")

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+a.ID+"/switch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var switched models.Session
	require.NoError(t, json.Unmarshal(payload["session"], &switched))
	assert.True(t, switched.IsActive)

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+b.ID+"/switch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The previously active session is demoted.
	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/sessions/"+a.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(payload["session"], &switched))
	assert.False(t, switched.IsActive)

	// A session whose workspace vanished cannot become active.
	require.NoError(t, os.RemoveAll(a.WorkspacePath))
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+a.ID+"/switch", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMalformedSessionIDRejected(t *testing.T) {
	ts := newAPITestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/sessions/not-a-session-id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/sessions/ses_TOOUPPERCASE0000", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGitStatusOverHTTP(t *testing.T) {
	ts := newAPITestServer(t)
	repoDir := initSourceRepo(t)
	session := createSessionHTTP(t, ts, repoDir, "status session")

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+session.ID+"/git/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.RepoStatus
	require.NoError(t, json.Unmarshal(payload["status"], &status))
	assert.Equal(t, session.BranchName, status.Branch)
	assert.True(t, status.IsClean)

	var branches []models.BranchInfo
	require.NoError(t, json.Unmarshal(payload["branches"], &branches))
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	assert.Contains(t, names, "master")
	assert.Contains(t, names, session.BranchName)
}

func TestModelsEndpoints(t *testing.T) {
	ts := newAPITestServer(t)

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var groups []models.LLMModelGroup
	require.NoError(t, json.Unmarshal(payload["providers"], &groups))
	assert.NotEmpty(t, groups)

	resp, payload = doJSON(t, http.MethodPost, ts.URL+"/models/toggle", map[string]any{
		"key":     "openai/gpt-4.1",
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m models.LLMModel
	require.NoError(t, json.Unmarshal(payload["model"], &m))
	assert.False(t, m.Enabled)
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newAPITestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/settings/theme", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, payload := doJSON(t, http.MethodPut, ts.URL+"/settings/theme", map[string]string{
		"scope": "app",
		"value": "dark",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = doJSON(t, http.MethodGet, ts.URL+"/settings/theme?scope=app", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var setting models.Setting
	require.NoError(t, json.Unmarshal(payload["setting"], &setting))
	assert.Equal(t, "dark", setting.Value)
}
