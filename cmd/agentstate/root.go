// ABOUTME: Cobra root command, global flags and engine wiring for the CLI
// ABOUTME: Resolves the config file, builds the logger and opens the storage backend

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/2389/agentstate/internal/config"
	"github.com/2389/agentstate/internal/engine"
	"github.com/2389/agentstate/internal/store"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	backend    string
	path       string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "agentstate",
		Short: "Persistent working memory for autonomous agents",
		Long: `agentstate records an agent's task plan, notes, decisions and errors
in a durable store so work survives restarts.

Backends: memory, json, encrypted, sqlite, sqlite_history, redis.
The sqlite_history backend keeps a versioned ledger that supports rollback.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default $AGENTSTATE_CONFIG or ~/.config/agentstate/config.yaml)")
	pf.StringVar(&flags.backend, "backend", "", "storage backend, overrides the config file")
	pf.StringVar(&flags.path, "path", "", "storage path, overrides the config file")
	pf.BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newPlanCmd(flags),
		newStartCmd(flags),
		newCompleteCmd(flags),
		newFailCmd(flags),
		newStatusCmd(flags),
		newNoteCmd(flags),
		newNotesCmd(flags),
		newDecisionCmd(flags),
		newDecisionsCmd(flags),
		newErrorCmd(flags),
		newErrorsCmd(flags),
		newHistoryCmd(flags),
		newRollbackCmd(flags),
		newClearCmd(flags),
		newServeCmd(flags),
		newMCPCmd(flags),
		newConfigCmd(flags),
	)

	return rootCmd
}

// getConfigPath returns the config file to load, or "" when none exists and the
// defaults apply. An explicitly named file must exist.
func getConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv("AGENTSTATE_CONFIG"); p != "" {
		return p, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		configDir = filepath.Join(home, ".config")
	}

	candidate := filepath.Join(configDir, "agentstate", "config.yaml")
	if _, err := os.Stat(candidate); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("checking config file: %w", err)
	}
	return candidate, nil
}

// loadConfig resolves and loads the config, then applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	path, err := getConfigPath(flags.configPath)
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	if flags.backend != "" || flags.path != "" {
		if err := cfg.Override(flags.backend, flags.path); err != nil {
			return nil, fmt.Errorf("invalid flags: %w", err)
		}
	}

	return cfg, nil
}

// session is an open engine plus everything needed to tear it down.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	out    io.Writer
	json   bool
}

func (s *session) Close() error {
	return s.engine.Backend().Close()
}

// openSession loads config, opens the backend and builds the engine. Logs go to
// stderr so command output stays parseable.
func openSession(cmd *cobra.Command, flags *globalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

	backend, err := store.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	eng := engine.New(backend, engine.Options{
		SingleActivePhase: cfg.Engine.SingleActivePhase,
		AutoAdvance:       cfg.Engine.AutoAdvance,
	}, logger)

	return &session{
		cfg:    cfg,
		logger: logger,
		engine: eng,
		out:    cmd.OutOrStdout(),
		json:   flags.jsonOutput,
	}, nil
}

// withSession opens a session, runs fn and closes the backend.
func withSession(flags *globalFlags, fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := openSession(cmd, flags)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing storage: %w", cerr)
			}
		}()
		return fn(cmd, args, s)
	}
}
