package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ghcanvas"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage ghcanvas configuration.

Running bare 'ghcanvas config' is the same as 'ghcanvas config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# ghcanvas configuration
# See: ghcanvas config show (for effective values and sources)

# State/data directory (default: ~/.config/ghcanvas)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/ghcanvas/ghcanvas.db)
# db_path: {{ .DBPath }}

# Web server
server:
  port: {{ .Port }}
  # Public URL of the server, used for the OAuth redirect (default: http://localhost:<port>)
  base_url: "{{ .BaseURL }}"
  # Secret signing session cookies (generated into state_dir when empty)
  # session_secret: ""

# GitHub OAuth app
github:
  client_id: "{{ .ClientID }}"
  # Prefer GHCANVAS_GITHUB_CLIENT_SECRET over storing the secret here
  # client_secret: ""
  scope: "{{ .Scope }}"
  # API root for GitHub Enterprise (default: https://api.github.com/)
  # api_url: ""

# OAuth endpoints
oauth:
  # Token exchange proxy used by 'ghcanvas auth login' when no client secret is configured
  proxy_url: "{{ .ProxyURL }}"

# Assistant
anthropic:
  # Prefer ANTHROPIC_API_KEY or GHCANVAS_ANTHROPIC_API_KEY
  # api_key: ""
  model: "{{ .Model }}"
`

type configTemplateData struct {
	StateDir string
	DBPath   string
	Port     int
	BaseURL  string
	ClientID string
	Scope    string
	ProxyURL string
	Model    string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir: viper.GetString("state_dir"),
		DBPath:   viper.GetString("db_path"),
		Port:     viper.GetInt("server.port"),
		BaseURL:  viper.GetString("server.base_url"),
		ClientID: viper.GetString("github.client_id"),
		Scope:    viper.GetString("github.scope"),
		ProxyURL: viper.GetString("oauth.proxy_url"),
		Model:    viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "GHCANVAS_STATE_DIR"},
	{Key: "db_path", EnvVar: "GHCANVAS_DB_PATH"},
	{Key: "server.port", EnvVar: "GHCANVAS_SERVER_PORT"},
	{Key: "server.base_url", EnvVar: "GHCANVAS_SERVER_BASE_URL"},
	{Key: "server.session_secret", EnvVar: "GHCANVAS_SERVER_SESSION_SECRET", Secret: true},
	{Key: "github.client_id", EnvVar: "GHCANVAS_GITHUB_CLIENT_ID"},
	{Key: "github.client_secret", EnvVar: "GHCANVAS_GITHUB_CLIENT_SECRET", Secret: true},
	{Key: "github.scope", EnvVar: "GHCANVAS_GITHUB_SCOPE"},
	{Key: "github.api_url", EnvVar: "GHCANVAS_GITHUB_API_URL"},
	{Key: "oauth.authorize_url", EnvVar: "GHCANVAS_OAUTH_AUTHORIZE_URL"},
	{Key: "oauth.token_url", EnvVar: "GHCANVAS_OAUTH_TOKEN_URL"},
	{Key: "oauth.proxy_url", EnvVar: "GHCANVAS_OAUTH_PROXY_URL"},
	{Key: "anthropic.api_key", EnvVar: "GHCANVAS_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "GHCANVAS_ANTHROPIC_MODEL"},
	{Key: "anthropic.base_url", EnvVar: "GHCANVAS_ANTHROPIC_BASE_URL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := fmt.Sprint(viper.Get(k.Key))
		if k.Secret {
			val = maskSecret(val)
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'ghcanvas config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
