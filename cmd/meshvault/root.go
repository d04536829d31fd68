package main

import (
	"github.com/eteran/meshvault/internal/database"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the settings shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	cmd := &cobra.Command{
		Use:           "meshvault",
		Short:         "MeshVault is an admin console for 3D assets and their binary files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v, a.configFile)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	cmd.Version = version

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("data-dir", "./data", "directory to store blobs and the SQLite database")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("storage", "local", "blob storage backend (local, s3, memory)")
	flags.String("db-driver", database.DriverSQLite, "metadata database driver (sqlite3, pgx)")
	flags.String("db-dsn", "", "metadata database DSN (defaults to <data-dir>/metadata.sqlite)")
	bindFlags(a.v, flags)

	cmd.AddCommand(
		newServeCmd(a),
		newReconcileCmd(a),
		newAdminCmd(a),
	)

	return cmd
}
