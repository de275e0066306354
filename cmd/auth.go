package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/ghcanvas/internal/oauth"
	"github.com/joescharf/ghcanvas/internal/session"
)

const (
	loginTimeout = 5 * time.Minute
	loginDone    = "/done"
)

var (
	authToken string
	authPort  int
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Connect the terminal to GitHub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authStatusRun(cmd.Context())
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Connect with GitHub",
	Long: `Connect with GitHub through the OAuth app configured in github.client_id.

A loopback listener receives the callback; the code is exchanged locally when
github.client_secret is set and through oauth.proxy_url otherwise. Use
--token to store an existing token instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return authLoginRun(cmd.Context())
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect from GitHub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authLogoutRun(cmd.Context())
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the GitHub connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authStatusRun(cmd.Context())
	},
}

func init() {
	authLoginCmd.Flags().StringVar(&authToken, "token", "", "Store this access token instead of running the browser flow")
	authLoginCmd.Flags().IntVar(&authPort, "port", 0, "Loopback port for the OAuth callback (default: any free port)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func authLoginRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	sess, err := cliSession(ctx)
	if err != nil {
		return err
	}

	if authToken != "" {
		if err := sess.SetAccessToken(ctx, authToken); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		ui.Success("Connected to GitHub")
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", authPort))
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	cfg := oauthConfig(fmt.Sprintf("http://%s/auth/callback", ln.Addr()))
	exchanger, _, err := codeExchanger(cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	err = loopbackLogin(ctx, sess, ln, cfg, exchanger, func(authURL string) {
		ui.Info("Open this URL in your browser to connect with GitHub:")
		fmt.Fprintf(ui.Out, "\n  %s\n\n", authURL)
		ui.Info("Waiting for the callback on %s ...", ln.Addr())
	})
	if err != nil {
		return err
	}
	ui.Success("Connected to GitHub")
	return nil
}

// loopbackLogin serves the OAuth callback on ln for the CLI session and
// blocks until the flow lands on its success or failure page. open receives
// the authorize URL once the listener is ready.
func loopbackLogin(ctx context.Context, sess *session.Session, ln net.Listener, cfg oauth.Config, exchanger oauth.CodeExchanger, open func(authURL string)) error {
	if err := sess.SaveRedirect(ctx, loginDone); err != nil {
		_ = ln.Close()
		return fmt.Errorf("save redirect: %w", err)
	}

	result := make(chan bool, 1)
	report := func(ok bool) {
		select {
		case result <- ok:
		default:
		}
	}

	handlers := &oauth.Handlers{Config: cfg, Exchanger: exchanger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/callback", handlers.Callback)
	mux.HandleFunc("GET "+loginDone, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Connected to GitHub. You can close this window.")
		report(true)
	})
	// Every failure in the callback redirects to "/".
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "GitHub login failed. Check the terminal for details.")
		report(false)
	})

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mux.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	open(cfg.AuthCodeURL())

	select {
	case ok := <-result:
		if !ok {
			return errors.New("authentication failed")
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for GitHub callback: %w", ctx.Err())
	}
}

func authLogoutRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	sess, err := cliSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.SetAccessToken(ctx, ""); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	ui.Success("Disconnected from GitHub")
	return nil
}

func authStatusRun(ctx context.Context) error {
	ctx = orBackground(ctx)
	sess, err := cliSession(ctx)
	if err != nil {
		return err
	}
	if !sess.IsAuthenticated() {
		ui.Info("Not connected to GitHub")
		return nil
	}
	ui.Success("Connected to GitHub")
	if repo := sess.SelectedRepository(); repo != nil {
		ui.Info("Repository: %s", repo.FullName)
	} else {
		ui.Info("Repository: (none selected)")
	}
	return nil
}
