package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

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
	return filepath.Join(home, ".config", "royale"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage royale configuration.

Running bare 'royale config' is the same as 'royale config show'.`,
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
const configTemplate = `# royale configuration
# See: royale config show (for effective values and sources)

# State/data directory (default: ~/.config/royale)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/royale/royale.db)
# db_path: {{ .DBPath }}

# GitHub
github:
  # API token; GITHUB_TOKEN is used when empty
  token: ""
  # API root for GitHub Enterprise (default: api.github.com)
  base_url: "{{ .GitHubBaseURL }}"

# Background sync (royale serve)
sync:
  interval: {{ .SyncInterval }}
  repo_delay: {{ .SyncRepoDelay }}
  # Ignore pull requests not updated within this many days (0 disables)
  max_age_days: {{ .SyncMaxAgeDays }}

# Comment quality classification
anthropic:
  # ANTHROPIC_API_KEY is used when empty
  api_key: ""
  model: "{{ .AnthropicModel }}"
categorize:
  batch_size: {{ .BatchSize }}

log:
  # debug, info, warn, error
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"

# HTTP API port for royale serve
port: {{ .Port }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	GitHubBaseURL  string
	SyncInterval   time.Duration
	SyncRepoDelay  time.Duration
	SyncMaxAgeDays int
	AnthropicModel string
	BatchSize      int
	LogLevel       string
	LogFormat      string
	Port           int
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
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		GitHubBaseURL:  viper.GetString("github.base_url"),
		SyncInterval:   viper.GetDuration("sync.interval"),
		SyncRepoDelay:  viper.GetDuration("sync.repo_delay"),
		SyncMaxAgeDays: viper.GetInt("sync.max_age_days"),
		AnthropicModel: viper.GetString("anthropic.model"),
		BatchSize:      viper.GetInt("categorize.batch_size"),
		LogLevel:       viper.GetString("log.level"),
		LogFormat:      viper.GetString("log.format"),
		Port:           viper.GetInt("port"),
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

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
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
	{Key: "state_dir", EnvVar: "ROYALE_STATE_DIR"},
	{Key: "db_path", EnvVar: "ROYALE_DB_PATH"},
	{Key: "github.token", EnvVar: "ROYALE_GITHUB_TOKEN", Secret: true},
	{Key: "github.base_url", EnvVar: "ROYALE_GITHUB_BASE_URL"},
	{Key: "sync.interval", EnvVar: "ROYALE_SYNC_INTERVAL"},
	{Key: "sync.repo_delay", EnvVar: "ROYALE_SYNC_REPO_DELAY"},
	{Key: "sync.max_age_days", EnvVar: "ROYALE_SYNC_MAX_AGE_DAYS"},
	{Key: "anthropic.api_key", EnvVar: "ROYALE_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "ROYALE_ANTHROPIC_MODEL"},
	{Key: "categorize.batch_size", EnvVar: "ROYALE_CATEGORIZE_BATCH_SIZE"},
	{Key: "log.level", EnvVar: "ROYALE_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "ROYALE_LOG_FORMAT"},
	{Key: "port", EnvVar: "ROYALE_PORT"},
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
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
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
		return fmt.Errorf("config file not found: %s (run 'royale config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
