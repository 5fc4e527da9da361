package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
	"github.com/pitchtrail/pitchtrail-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

type dbCommand func(ctx context.Context, sqlDB *sql.DB, opts options) ([]migrate.Result, error)

var dbCommands = map[string]dbCommand{
	migrate.CommandUp: func(ctx context.Context, sqlDB *sql.DB, opts options) ([]migrate.Result, error) {
		return migrate.Run(ctx, sqlDB, opts.dir, migrate.CommandUp)
	},
	migrate.CommandDown: func(ctx context.Context, sqlDB *sql.DB, opts options) ([]migrate.Result, error) {
		return migrate.Run(ctx, sqlDB, opts.dir, migrate.CommandDown)
	},
	migrate.CommandStatus: func(ctx context.Context, sqlDB *sql.DB, opts options) ([]migrate.Result, error) {
		return migrate.Run(ctx, sqlDB, opts.dir, migrate.CommandStatus)
	},
	"version": func(ctx context.Context, sqlDB *sql.DB, opts options) ([]migrate.Result, error) {
		if opts.version == "" {
			return nil, fmt.Errorf("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	},
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", migrate.CommandUp, "up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory; the default uses the embedded set")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for database commands")
	flag.Parse()

	// create and validate work on files only and never need config or a database.
	switch *cmd {
	case "create":
		if opts.name == "" {
			exit("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			exit("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			exit("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	run, ok := dbCommands[*cmd]
	if !ok {
		exit("unknown -cmd value: %s", *cmd)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	results, err := run(ctx, sqlDB, opts)
	if err != nil {
		logg.Error(ctx, "migrate command failed", err)
		os.Exit(1)
	}
	printResults(results)
	logg.Info(logg.WithField(ctx, "migrations", len(results)), "migrate command complete")
}

func printResults(results []migrate.Result) {
	if len(results) == 0 {
		fmt.Println("no migrations to apply")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tDURATION\tFILE")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Version, r.State, r.Duration.Round(time.Millisecond), r.Path)
	}
	_ = w.Flush()
}

func exit(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
