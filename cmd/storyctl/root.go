// cmd/storyctl/root.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sumanurawat/storyboarder/internal/config"
	"github.com/sumanurawat/storyboarder/internal/storage"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// rootOptions 全局参数，非空时覆盖环境配置
type rootOptions struct {
	envFile  string
	dataDir  string
	store    string
	logLevel string
	json     bool
}

// NewRootCmd creates the storyctl root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "storyctl",
		Short: "Manage Storyboarder projects from the command line",
		Long: `storyctl works directly against the configured project store.

It reads the same environment (.env, STORE_BACKEND, DATA_DIR, OPENROUTER_API_KEY, ...)
as the server, so both can share one data directory or database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory for the file store (overrides DATA_DIR)")
	flags.StringVar(&opts.store, "store", "", "store backend: file, redis or postgres (overrides STORE_BACKEND)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	flags.BoolVar(&opts.json, "json", false, "print machine-readable JSON")

	cmd.AddCommand(
		newProjectsCmd(opts),
		newChatCmd(opts),
		newApplyCmd(opts),
		newSchemaCmd(),
	)
	return cmd
}

// session 一次命令使用的配置与存储
type session struct {
	cfg     *config.Config
	log     *logrus.Logger
	backend storage.Backend
	repo    *storage.Repository
}

func openSession(cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.store != "" {
		cfg.StoreBackend = strings.ToLower(opts.store)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(utils.ParseLogLevel(opts.logLevel))

	if cfg.StoreBackend == storage.KindFile {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	backend, err := storage.Open(cmd.Context(), storage.Options{
		Kind:        cfg.StoreBackend,
		DataDir:     cfg.DataDir,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	return &session{
		cfg:     cfg,
		log:     logger,
		backend: backend,
		repo:    storage.NewRepository(backend, utils.Component(logger, "storage")),
	}, nil
}

func (s *session) Close() error {
	return s.backend.Close()
}

func (s *session) entry(component string) *logrus.Entry {
	return utils.Component(s.log, component)
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
