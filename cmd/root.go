package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/logging"
	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/recalc"
	"github.com/joescharf/royale/internal/scheduler"
	"github.com/joescharf/royale/internal/scoring"
	"github.com/joescharf/royale/internal/store"
	"github.com/joescharf/royale/internal/syncer"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *logrus.Logger

	// writeLock serializes syncs and recalculations within one process.
	writeLock sync.Mutex

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "royale",
	Short: "Review Royale - XP and achievements for pull request reviewers",
	Long: `royale syncs pull requests, reviews and commits from GitHub, groups reviews
into sessions, and awards XP, levels and achievements to the people who review.`,
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

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/royale/config.yaml)")
}

func initConfig() {
	// .env in the working directory seeds the environment; real env vars win.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "royale")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ROYALE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "royale"))

	_ = viper.ReadInConfig()
}

// setDefaults registers a default for every config key.
func setDefaults(stateDir string) {
	sched := scheduler.DefaultConfig()

	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "royale.db"))
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.base_url", "")
	viper.SetDefault("sync.interval", sched.Interval)
	viper.SetDefault("sync.repo_delay", sched.RepoDelay)
	viper.SetDefault("sync.max_age_days", sched.MaxAgeDays)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("categorize.batch_size", 50)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is opened lazily so config/version run without a database.
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

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLogger returns the shared logger, writing to stderr. --verbose forces debug.
func getLogger() (*logrus.Logger, error) {
	if logger != nil {
		return logger, nil
	}
	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logging.New(level, viper.GetString("log.format"), os.Stderr)
	if err != nil {
		return nil, err
	}
	logger = l
	return logger, nil
}

// githubToken reads github.token, falling back to GITHUB_TOKEN.
func githubToken() string {
	if tok := viper.GetString("github.token"); tok != "" {
		return tok
	}
	return os.Getenv("GITHUB_TOKEN")
}

func newGitHubClient() (*gh.RESTClient, error) {
	return gh.NewRESTClient(githubToken(), viper.GetString("github.base_url"), nil)
}

// newOrchestrator wires the store, GitHub client and scorer into a sync orchestrator.
func newOrchestrator() (*syncer.Orchestrator, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	log, err := getLogger()
	if err != nil {
		return nil, err
	}
	client, err := newGitHubClient()
	if err != nil {
		return nil, err
	}
	return syncer.New(s, client, scoring.NewScorer(scoring.DefaultRules()), log).WithWriteLock(&writeLock), nil
}

func newRecalcJob() (*recalc.Job, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	log, err := getLogger()
	if err != nil {
		return nil, err
	}
	return recalc.New(s, scoring.NewScorer(scoring.DefaultRules()), log).WithWriteLock(&writeLock), nil
}

// schedulerConfig reads the sync.* keys.
func schedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:   viper.GetDuration("sync.interval"),
		RepoDelay:  viper.GetDuration("sync.repo_delay"),
		MaxAgeDays: viper.GetInt("sync.max_age_days"),
	}
}

// parseRepo splits "owner/name", also accepting a github.com URL.
func parseRepo(arg string) (owner, name string, err error) {
	s := strings.TrimSpace(arg)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")

	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: want owner/name", arg)
	}
	return owner, name, nil
}
