package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/ghcanvas/internal/api"
	"github.com/joescharf/ghcanvas/internal/daemon"
	"github.com/joescharf/ghcanvas/internal/oauth"
	"github.com/joescharf/ghcanvas/internal/session"
	"github.com/joescharf/ghcanvas/internal/store"
	webui "github.com/joescharf/ghcanvas/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the HTTP server that serves the web interface, the JSON API and
the OAuth token exchange endpoint. By default it listens on port 8080.

Use 'ghcanvas serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the web server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background web server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("server.port", serveCmd.PersistentFlags().Lookup("port"))
}

// runFile returns the run file tracking the background server.
func runFile() *daemon.RunFile {
	return daemon.NewRunFile(filepath.Join(viper.GetString("state_dir"), "ghcanvas-serve.json"))
}

// serveLogPath is where the background server writes its output.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "ghcanvas-serve.log")
}

// baseURL is the public root of the server.
func baseURL() string {
	if u := viper.GetString("server.base_url"); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	return fmt.Sprintf("http://localhost:%d", viper.GetInt("server.port"))
}

// oauthConfig builds the app registration with the given callback URL.
func oauthConfig(redirectURL string) oauth.Config {
	return oauth.Config{
		ClientID:     viper.GetString("github.client_id"),
		ClientSecret: viper.GetString("github.client_secret"),
		Scope:        viper.GetString("github.scope"),
		RedirectURL:  redirectURL,
		AuthorizeURL: viper.GetString("oauth.authorize_url"),
		TokenURL:     viper.GetString("oauth.token_url"),
	}
}

// codeExchanger picks how callbacks turn codes into tokens: in process when
// the client secret is configured, otherwise through the proxy. The returned
// Exchanger is non-nil only in the first case.
func codeExchanger(cfg oauth.Config) (oauth.CodeExchanger, *oauth.Exchanger, error) {
	if cfg.ClientID == "" {
		return nil, nil, errors.New("github.client_id is not set (see 'ghcanvas config init')")
	}
	if cfg.ClientSecret != "" {
		ex := oauth.NewExchanger(cfg)
		return oauth.LocalExchanger{Exchanger: ex}, ex, nil
	}
	if proxyURL := viper.GetString("oauth.proxy_url"); proxyURL != "" {
		return oauth.NewProxyClient(proxyURL, nil), nil, nil
	}
	return nil, nil, errors.New("set github.client_secret or oauth.proxy_url to complete GitHub login")
}

// sessionSecret returns the configured cookie secret, or one generated once
// and kept in the state directory.
func sessionSecret() (string, error) {
	if secret := viper.GetString("server.session_secret"); secret != "" {
		return secret, nil
	}

	path := filepath.Join(viper.GetString("state_dir"), "session.key")
	if data, err := os.ReadFile(path); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write session secret: %w", err)
	}
	slog.Info("generated session secret", "path", path)
	return secret, nil
}

// buildHandler wires every HTTP surface onto one mux behind the session
// middleware.
func buildHandler(s store.Store) (http.Handler, error) {
	secret, err := sessionSecret()
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(secret, session.DefaultCookieTTL)
	if err != nil {
		return nil, err
	}

	cfg := oauthConfig(baseURL() + "/auth/callback")
	exchanger, local, err := codeExchanger(cfg)
	if err != nil {
		return nil, err
	}

	gw := newGateway()

	// Interfaces stay nil when no model is configured.
	var (
		uiAssistant  webui.Assistant
		apiAssistant api.Assistant
	)
	if asst := newAssistant(s, gw); asst != nil {
		uiAssistant = asst
		apiAssistant = asst
	} else {
		slog.Info("assistant disabled: no Anthropic API key configured")
	}

	mux := http.NewServeMux()

	auth := &oauth.Handlers{Config: cfg, Exchanger: exchanger}
	var proxy oauth.TokenExchanger
	if local != nil {
		proxy = local
	}
	auth.Register(mux, proxy)

	pages, err := webui.NewServer(gw, uiAssistant)
	if err != nil {
		return nil, err
	}
	if err := pages.Register(mux); err != nil {
		return nil, err
	}

	mux.Handle("/api/v1/", api.NewServer(gw, apiAssistant).Router())

	secure := strings.HasPrefix(baseURL(), "https://")
	return requestLogger(session.NewManager(s, codec, secure).Middleware(mux)), nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// serveRun runs the server in the foreground until a shutdown signal.
func serveRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	rf := runFile()
	if rec, ok := rf.Running(); ok && rec.PID != os.Getpid() {
		return fmt.Errorf("server already running (pid %d) at %s", rec.PID, rec.URL())
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	handler, err := buildHandler(s)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	port := viper.GetInt("server.port")
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if err := rf.Write(fmt.Sprintf("localhost:%d", port)); err != nil {
		slog.Warn("failed to write run file", "error", err)
	}
	defer func() { _ = rf.Remove() }()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	ui.Success("Serving at %s", baseURL())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveStartRun launches `ghcanvas serve` as a detached child process.
func serveStartRun() error {
	rf := runFile()
	if rec, ok := rf.Running(); ok {
		return fmt.Errorf("server already running (pid %d) at %s", rec.PID, rec.URL())
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("server.port"))}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := rf.Running(); ok && rec.PID == pid {
			ui.Success("Server started (pid %d) at %s", pid, rec.URL())
			ui.VerboseLog("Logs: %s", logPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not start; see %s", logPath)
}

// serveStopRun stops the background server.
func serveStopRun() error {
	rec, err := runFile().Stop(shutdownTimeout)
	if errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("server is not running")
	}
	if err != nil {
		return err
	}
	ui.Success("Server stopped (pid %d)", rec.PID)
	return nil
}

// serveStatusRun reports the background server state.
func serveStatusRun() error {
	rec, ok := runFile().Running()
	if !ok {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server running (pid %d) at %s, started %s", rec.PID, rec.URL(), rec.StartedAt.Local().Format(time.DateTime))
	return nil
}
