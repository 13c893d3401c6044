package main

import (
	"github.com/goliatone/go-bounties/adapters/gologger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	flags *viper.Viper

	configFile     string
	httpAddr       string
	databaseDriver string
	databaseDSN    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{flags: viper.New()}
	root := &cobra.Command{
		Use:           "bountyd",
		Short:         "Bounty lifecycle orchestrator for GitHub issues",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.StringVar(&opts.databaseDriver, "database-driver", "", "database driver: postgres or sqlite3")
	flags.StringVar(&opts.databaseDSN, "database-dsn", "", "database connection string")
	_ = opts.flags.BindPFlag("log_level", flags.Lookup("log-level"))
	opts.flags.SetEnvPrefix(envPrefix)
	_ = opts.flags.BindEnv("log_level")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newBountiesCommand(opts),
		newContributorsCommand(opts),
	)
	return root
}

func (o *rootOptions) logger(cmd *cobra.Command) *gologger.SlogLogger {
	return gologger.NewJSONLogger(cmd.ErrOrStderr(), o.flags.GetString("log_level"))
}
