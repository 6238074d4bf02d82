package main

import (
	"fmt"
	"os"

	"github.com/discord-net/dgate"
	"github.com/discord-net/dgate/state"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "dgatebot",
		Short:         "Run a Discord bot session with a cached view of its guilds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"TOML config file; DGATE_* environment variables override it")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newConfigCmd(flags),
		newMigrateCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}

	var out string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default filled in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return dgate.WriteConfig(cmd.OutOrStdout(), dgate.DefaultConfig())
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists, pass --force to overwrite it", out)
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create config file: %w", err)
			}
			if err := dgate.WriteConfig(f, dgate.DefaultConfig()); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	initCmd.Flags().StringVarP(&out, "out", "o", "", "file to write, stdout when empty")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := dgate.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			return dgate.WriteConfig(cmd.OutOrStdout(), redact(cfg))
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the postgres cache schema up to date without connecting to Discord",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := dgate.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Store != dgate.StorePostgres {
				return fmt.Errorf("store is %q, migrations only apply to %q", cfg.Store, dgate.StorePostgres)
			}
			db, err := sqlx.Open("postgres", cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("open SQL DB: %w", err)
			}
			defer db.Close()
			if err := state.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info().Msg("schema is up to date")
			return nil
		},
	}
}

func redact(cfg dgate.Config) dgate.Config {
	for _, s := range []*string{&cfg.Token, &cfg.PostgresDSN, &cfg.SentryDSN, &cfg.OTLPPassword} {
		if *s != "" {
			*s = "<redacted>"
		}
	}
	return cfg
}
