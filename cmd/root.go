package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/overseerhq/overseer/internal/inject"
	"github.com/overseerhq/overseer/internal/output"
	"github.com/overseerhq/overseer/internal/stall"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/internal/supervise"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Overseer - supervise live terminal sessions",
	Long: `overseer watches live terminal sessions for stalled work, generates
actionable insights, and can inject corrective commands on your behalf.
Every intervention is validated against a safety policy and recorded in
an append-only audit log before it touches a terminal.`,
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
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/overseer/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "overseer")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OVERSEER")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "overseer")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "overseer.db"))
	viper.SetDefault("user", "local")
	viper.SetDefault("monitor.interval", 30)
	viper.SetDefault("monitor.stall_threshold", 300)
	viper.SetDefault("monitor.auto_intervene", false)
	viper.SetDefault("task.planner", "heuristic")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getService wires the supervision service over the live tmux transport.
func getService() (*supervise.Service, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	gw := inject.NewTmuxGateway()
	dir := inject.NewTmuxDirectory()
	svc := supervise.NewService(s, gw, dir, stall.NewDetector(gw))
	return svc, s, nil
}

// currentUser identifies the acting user in supervisor records.
func currentUser() string {
	return viper.GetString("user")
}

// snapCachePath locates the snapshot state file shared by sweep and watch.
func snapCachePath() string {
	return filepath.Join(viper.GetString("state_dir"), "snapshots.json")
}
