package cmd

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ghcanvas/internal/daemon"
	"github.com/joescharf/ghcanvas/internal/oauth"
)

func TestRunFile_Path(t *testing.T) {
	dir, _ := testEnv(t)

	rf := runFile()
	assert.Equal(t, filepath.Join(dir, "ghcanvas-serve.json"), rf.Path)
}

func TestServeLogPath(t *testing.T) {
	dir, _ := testEnv(t)

	assert.Equal(t, filepath.Join(dir, "ghcanvas-serve.log"), serveLogPath())
}

func TestServeStatusRun_NotRunning(t *testing.T) {
	_, buf := testEnv(t)

	// No run file exists, so status should show "not running" without error.
	err := serveStatusRun()
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "not running")
}

func TestServeStatusRun_Running(t *testing.T) {
	_, buf := testEnv(t)
	require.NoError(t, runFile().Write("localhost:9999"))

	require.NoError(t, serveStatusRun())
	assert.Contains(t, buf.String(), "http://localhost:9999")
}

func TestServeStopRun_NotRunning(t *testing.T) {
	testEnv(t)

	// No run file exists, so stop should return an error.
	err := serveStopRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestServeStartRun_AlreadyRunning(t *testing.T) {
	dir, _ := testEnv(t)

	// Write a run file for the current process (which is alive).
	rf := daemon.NewRunFile(filepath.Join(dir, "ghcanvas-serve.json"))
	require.NoError(t, rf.Write("localhost:8080"))

	err := serveStartRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestBaseURL(t *testing.T) {
	testEnv(t)
	assert.Equal(t, "http://localhost:8080", baseURL())

	viper.Set("server.port", 3000)
	assert.Equal(t, "http://localhost:3000", baseURL())

	viper.Set("server.base_url", "https://issues.example.com/")
	assert.Equal(t, "https://issues.example.com", baseURL())
}

func TestSessionSecret_GeneratedOnce(t *testing.T) {
	dir, _ := testEnv(t)

	first, err := sessionSecret()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	info, err := os.Stat(filepath.Join(dir, "session.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := sessionSecret()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSessionSecret_Configured(t *testing.T) {
	dir, _ := testEnv(t)
	viper.Set("server.session_secret", "from-config")

	secret, err := sessionSecret()
	require.NoError(t, err)
	assert.Equal(t, "from-config", secret)

	_, err = os.Stat(filepath.Join(dir, "session.key"))
	assert.True(t, os.IsNotExist(err))
}

func TestCodeExchanger(t *testing.T) {
	testEnv(t)

	_, _, err := codeExchanger(oauthConfig(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")

	viper.Set("github.client_id", "Iv1.abc")
	_, _, err = codeExchanger(oauthConfig(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy_url")

	viper.Set("oauth.proxy_url", "https://proxy.example.com/api/auth/github")
	ex, local, err := codeExchanger(oauthConfig(""))
	require.NoError(t, err)
	assert.IsType(t, &oauth.ProxyClient{}, ex)
	assert.Nil(t, local)

	viper.Set("github.client_secret", "shh")
	ex, local, err = codeExchanger(oauthConfig(""))
	require.NoError(t, err)
	assert.IsType(t, oauth.LocalExchanger{}, ex)
	assert.NotNil(t, local)
}

func TestBuildHandler_Routes(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")
	viper.Set("github.client_id", "Iv1.abc")
	viper.Set("github.client_secret", "shh")

	s, err := getStore()
	require.NoError(t, err)
	handler, err := buildHandler(s)
	require.NoError(t, err)

	// Landing page for a fresh browser.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Connect with GitHub")
	assert.NotEmpty(t, rec.Result().Cookies())

	// Login redirects to the provider with the configured client id.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://github.com/login/oauth/authorize"), loc)
	assert.Contains(t, loc, "client_id=Iv1.abc")
	assert.Contains(t, loc, "redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Fauth%2Fcallback")

	// Proxy endpoint is mounted when the secret is local.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, oauth.ProxyPath, strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Code is required")

	// JSON API shares the session.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isAuthenticated":false`)
	assert.Contains(t, rec.Body.String(), `"assistantEnabled":false`)
}

func TestBuildHandler_RequiresClientID(t *testing.T) {
	testEnv(t)

	s, err := getStore()
	require.NoError(t, err)
	_, err = buildHandler(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}
