package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smr/internal/app"
	"smr/internal/config"
	"smr/internal/database"
	"smr/internal/logging"
)

type rootOptions struct {
	configPath string
	operator   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "smrctl",
		Short:         "Operate the station music report pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a config file")
	cmd.PersistentFlags().StringVar(&opts.operator, "as", os.Getenv("USER"), "Operator name recorded on audit fields")

	cmd.AddCommand(
		newUploadCmd(opts),
		newStatusCmd(opts),
		newMapCmd(opts),
		newFinalizeCmd(opts),
		newRejectCmd(opts),
		newMigrateCmd(opts),
		newArtistsCmd(opts),
		newUserCmd(opts),
	)
	return cmd
}

// session is an opened database plus the wired services
type session struct {
	cfg       *config.AppConfig
	dbManager *database.DatabaseManager
	*app.Container
}

func (s *session) Close() {
	s.Container.Close()
	s.dbManager.Close()
}

func (o *rootOptions) loadConfig() (*config.AppConfig, error) {
	loader := config.NewConfigLoader()
	if o.configPath != "" {
		loader.SetConfigFile(o.configPath)
	}
	return loader.Load()
}

func (o *rootOptions) connect() (*config.AppConfig, *database.DatabaseManager, *logging.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	// stdout carries command output, so logs go to stderr
	logger := logging.NewLogger(logging.LogLevel(cfg.Logging.Level), zerolog.ConsoleWriter{Out: os.Stderr})
	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, dbManager, logger, nil
}

// open connects and wires the pipeline. Everything runs in process.
func (o *rootOptions) open() (*session, error) {
	cfg, dbManager, logger, err := o.connect()
	if err != nil {
		return nil, err
	}
	container, err := app.New(cfg, dbManager.GetGormDB(), app.Options{Logger: logger})
	if err != nil {
		dbManager.Close()
		return nil, err
	}
	return &session{cfg: cfg, dbManager: dbManager, Container: container}, nil
}

func (o *rootOptions) requireOperator() (string, error) {
	if o.operator == "" {
		return "", fmt.Errorf("operator name is required; pass --as")
	}
	return o.operator, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
