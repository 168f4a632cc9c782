package admin

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docintel/internal/config"
	"github.com/cloo-solutions/docintel/internal/database"
)

var migrationOps = map[string]database.MigrationOp{
	"up":      database.MigrateUp,
	"down":    database.MigrateDown,
	"version": database.MigrateVersion,
	"force":   database.MigrateForce,
}

func MigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate [up|down|version|force <version>]",
		Short: "Manage the database schema",
		Long: `Apply or roll back database migrations. Without an argument, applies all
pending migrations. "down" rolls back one migration. "force" records a
version without running it, to recover from a dirty schema.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "up"
			if len(args) > 0 {
				name = args[0]
			}
			op, ok := migrationOps[name]
			if !ok {
				return fmt.Errorf("unknown migration command %q (want up, down, version or force)", name)
			}

			var force int
			if op == database.MigrateForce {
				if len(args) != 2 {
					return fmt.Errorf("force needs a version")
				}
				v, err := strconv.Atoi(args[1])
				if err != nil || v < 0 {
					return fmt.Errorf("invalid version %q", args[1])
				}
				force = v
			} else if len(args) > 1 {
				return fmt.Errorf("%s takes no version", name)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return migrateAndReport(cfg.DatabaseURL, source, op, force)
		},
	}
	cmd.Flags().StringVar(&source, "source", database.DefaultMigrationsSource, "Migrations source URL")

	return cmd
}

func migrateAndReport(databaseURL, source string, op database.MigrationOp, force int) error {
	sv, err := database.Migrate(databaseURL, source, op, force)
	if err != nil {
		return err
	}
	if sv.Version == 0 {
		log.Println("migrations: no migrations applied")
		return nil
	}
	log.Printf("migrations: database at version %d", sv.Version)
	return nil
}
