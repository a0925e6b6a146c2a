package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"fedifeed/relay/internal/config"
	"fedifeed/relay/internal/database"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "relay",
		Usage: "Relay RSS and Atom feeds to federated followers",
		Description: `Polls feed sources on a per-source schedule, stores every new item
as a draft post and delivers it to the owner's subscribed recipients.

Settings come from an optional YAML or TOML file (--config), then from
RELAY_* environment variables, then from flags:

--db => RELAY_DB_PATH=relay.db
--log-level => RELAY_LOG_LEVEL=debug
--listen => RELAY_LISTEN=:8080`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file",
				EnvVars: []string{"RELAY_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the SQLite database file",
				EnvVars: []string{"RELAY_DB_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn, error",
				EnvVars: []string{"RELAY_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			startCmd(),
			importCmd(),
			statusCmd(),
			subscribeCmd(),
			unsubscribeCmd(),
			rollbackCmd(),
		},
	}
}

// loadConfig layers the config file, the environment and the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	zerolog.SetGlobalLevel(cfg.Level())
	return cfg, nil
}

func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DBPath).SizeFor(cfg.WorkerCount)
	dbCfg.ReadOnly = readOnly

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}
