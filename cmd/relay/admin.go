package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"fedifeed/relay/internal/directory"
	importer "fedifeed/relay/internal/import"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/scheduler"
	"fedifeed/relay/internal/storage"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import feed sources from a CSV file or URL",
		Description: `The CSV needs a header row with owner and url columns. Optional
columns: title, description, schedule, auto_deliver, active.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "csv",
				Usage:    "Path or http(s) URL of the CSV file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "update",
				Usage: "Update sources that already exist instead of skipping them",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := openDB(cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			store := storage.NewStore(db)
			imp := importer.NewImporter(store)
			if err := imp.ApplyConfig(c.Context, cfg); err != nil {
				return fmt.Errorf("seed from config: %w", err)
			}

			summary, err := imp.ImportSources(c.Context, c.String("csv"), c.Bool("update"))
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			fmt.Printf("Import completed:\n")
			fmt.Printf("  Total rows: %d\n", summary.Total)
			fmt.Printf("  Successfully imported: %d\n", summary.Imported)
			fmt.Printf("  Errors: %d\n", len(summary.Errors))
			for _, e := range summary.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show every source with its schedule and fetch health",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := openDB(cfg, true)
			if err != nil {
				return err
			}
			defer db.Close()

			store := storage.NewStore(db)
			sources, err := store.ListSources(c.Context)
			if err != nil {
				return err
			}

			usernames := make(map[models.OwnerID]string)
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Owner", "URL", "Schedule", "Active", "Last fetch", "Error"})
			table.SetAutoWrapText(false)
			for _, src := range sources {
				name, ok := usernames[src.OwnerID]
				if !ok {
					owner, err := store.GetOwner(c.Context, src.OwnerID)
					if err != nil {
						return err
					}
					name = owner.Username
					usernames[src.OwnerID] = name
				}
				table.Append([]string{
					name,
					src.URL,
					scheduleLabel(src.Schedule, cfg.DefaultSchedule),
					strconv.FormatBool(src.Active),
					lastFetch(src),
					src.LastFetchError.String,
				})
			}
			table.Render()
			fmt.Printf("%s sources\n", humanize.Comma(int64(len(sources))))
			return nil
		},
	}
}

func scheduleLabel(schedule, fallback string) string {
	if schedule == "" {
		return fallback + " (default)"
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return schedule + " (invalid)"
	}
	return schedule
}

func lastFetch(src models.Source) string {
	if !src.LastFetchedAt.Valid {
		return "never"
	}
	return humanize.Time(src.LastFetchedAt.Time)
}

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Add or reactivate a delivery recipient for an owner",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "Owner username", Required: true},
			&cli.StringFlag{Name: "actor", Usage: "Recipient actor URL", Required: true},
			&cli.StringFlag{Name: "inbox", Usage: "Recipient inbox endpoint", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Display name"},
		},
		Action: func(c *cli.Context) error {
			store, owner, closeDB, err := ownerFromFlag(c)
			if err != nil {
				return err
			}
			defer closeDB()

			r, err := directory.New(store).Subscribe(c.Context, owner.ID, c.String("actor"), c.String("inbox"), c.String("name"))
			if err != nil {
				return err
			}
			log.Info().Str("owner", owner.Username).Str("recipient", string(r.ID)).Str("inbox", r.Endpoint).Msg("Recipient subscribed")
			return nil
		},
	}
}

func unsubscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "unsubscribe",
		Usage: "Deactivate a delivery recipient",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "Owner username", Required: true},
			&cli.StringFlag{Name: "actor", Usage: "Recipient actor URL", Required: true},
		},
		Action: func(c *cli.Context) error {
			store, owner, closeDB, err := ownerFromFlag(c)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := directory.New(store).Unsubscribe(c.Context, owner.ID, c.String("actor")); err != nil {
				return err
			}
			log.Info().Str("owner", owner.Username).Str("actor", c.String("actor")).Msg("Recipient unsubscribed")
			return nil
		},
	}
}

// ownerFromFlag opens the database and resolves --owner.
func ownerFromFlag(c *cli.Context) (*storage.Store, *models.Owner, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := openDB(cfg, false)
	if err != nil {
		return nil, nil, nil, err
	}
	store := storage.NewStore(db)

	owner, err := store.GetOwnerByUsername(c.Context, c.String("owner"))
	if err != nil {
		db.Close()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("unknown owner %q", c.String("owner"))
		}
		return nil, nil, nil, err
	}
	return store, owner, func() { db.Close() }, nil
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Roll back schema migrations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "steps",
				Usage: "Number of migrations to roll back",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := openDB(cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			steps := c.Int("steps")
			if steps < 1 {
				return fmt.Errorf("steps must be at least 1, got %d", steps)
			}
			if err := db.Rollback(steps); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			log.Info().Int("steps", steps).Msg("Rolled back migrations")
			return nil
		},
	}
}
