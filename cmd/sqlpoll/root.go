package main

import (
	"os"

	"github.com/koustreak/sqlpoll/internal/config"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/spf13/cobra"

	// drivers register themselves with the database registry
	_ "github.com/koustreak/sqlpoll/internal/database/mysql"
	_ "github.com/koustreak/sqlpoll/internal/database/postgres"
	_ "github.com/koustreak/sqlpoll/internal/database/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "sqlpoll",
	Short:         "Incrementally poll a SQL database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sqlpoll.yaml", "path to the configuration file")
	rootCmd.AddCommand(runCmd, checkCmd, cursorCmd)
}

// setup loads the configuration and builds the logger from it. Logs go to
// stderr unless a file is configured, so stdout stays free for rows.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Log.Config
	if logCfg.Output == nil {
		logCfg.Output = os.Stderr
	}
	log := logger.New(&logCfg)
	logger.SetGlobal(log)
	return cfg, log, nil
}
