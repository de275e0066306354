package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/ghcanvas/internal/github"
	"github.com/joescharf/ghcanvas/internal/output"
	"github.com/joescharf/ghcanvas/internal/session"
	"github.com/joescharf/ghcanvas/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ghcanvas",
	Short: "Talk to your GitHub issues",
	Long: `ghcanvas manages the issues of a GitHub repository from the browser,
the terminal or an AI assistant. Connect with GitHub, pick a repository,
then list, filter, create, comment on and close its issues.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/ghcanvas/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GHCANVAS")
	viper.AutomaticEnv()

	defaultConfigDir, _ := configDirFunc()
	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "ghcanvas.db"))
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("server.session_secret", "")
	viper.SetDefault("github.client_id", "")
	viper.SetDefault("github.client_secret", "")
	viper.SetDefault("github.scope", "repo")
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("oauth.authorize_url", "")
	viper.SetDefault("oauth.token_url", "")
	viper.SetDefault("oauth.proxy_url", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("anthropic.base_url", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `ghcanvas` with no subcommand: show the connection and,
// when a repository is selected, its open issues.
func rootRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return cmd.Help()
	}
	ctx := context.Background()
	sess, err := session.Load(ctx, s, session.CLIID)
	if err != nil {
		return cmd.Help()
	}
	if !sess.IsAuthenticated() {
		ui.Info("Not connected. Run 'ghcanvas auth login' to connect with GitHub.")
		return nil
	}
	if sess.SelectedRepository() == nil {
		ui.Info("No repository selected. Run 'ghcanvas repo list' and 'ghcanvas repo select <owner/name>'.")
		return nil
	}

	issueFilterState = "open"
	defer func() { issueFilterState = "" }()
	return issueListRun(cmd)
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// cliSession loads the session shared by all terminal commands.
func cliSession(ctx context.Context) (*session.Session, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return session.Load(ctx, s, session.CLIID)
}

// authedSession is cliSession for commands that call GitHub.
func authedSession(ctx context.Context) (*session.Session, error) {
	sess, err := cliSession(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.IsAuthenticated() {
		return nil, fmt.Errorf("not connected to GitHub (run 'ghcanvas auth login')")
	}
	return sess, nil
}

// newGateway builds the GitHub gateway from config.
func newGateway() *github.Gateway {
	var opts []github.Option
	if apiURL := viper.GetString("github.api_url"); apiURL != "" {
		opts = append(opts, github.WithBaseURL(apiURL))
	}
	return github.NewGateway(opts...)
}
