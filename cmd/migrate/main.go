package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hospital.org/internal/auth"
	"hospital.org/internal/config"
	"hospital.org/internal/migrate"
	"hospital.org/internal/obs"
	"hospital.org/internal/store/pg"
	"hospital.org/ops/migrations"
)

var (
	dsn     string
	dir     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Apply hospital database migrations and seeds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or HOSPITAL_DATABASE_DSN")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", config.Getenv("DATABASE_DSN", ""), "PostgreSQL DSN")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "Directory holding sql/ and seeds/ (defaults to the embedded set)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Up(ctx)
				printNames(cmd, applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply pending seed files",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				applied, err := m.Seed(ctx)
				printNames(cmd, applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: withManager(func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
				history, err := m.Status(ctx)
				printNames(cmd, history)
				return err
			}),
		},
		grantRoleCmd,
	)
}

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <username> <ADMIN|DOCTOR|PATIENT>",
	Short: "Add a role to an existing account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, ok := auth.ParseRole(strings.ToUpper(args[1]))
		if !ok {
			return fmt.Errorf("unknown role %q", args[1])
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		store := pg.New(db)
		acct, err := store.FindByUsername(ctx, args[0])
		if err != nil {
			return fmt.Errorf("find %s: %w", args[0], err)
		}
		if err := store.AddRole(ctx, acct.ID, role); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s (id %d)\n", role, acct.Username, acct.ID)
		return nil
	},
}

func withManager(run func(context.Context, *migrate.Manager, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		var fsys fs.FS = migrations.FS
		if dir != "" {
			fsys = os.DirFS(dir)
		}
		log := obs.NewLogger(config.LogConfig{Level: "info", Format: "console"}, os.Stderr).
			With().Str("component", "migrate").Logger()
		mgr := migrate.NewManager(db, fsys, migrations.SQLDir, migrations.SeedsDir, migrate.WithLogger(log))
		if err := run(ctx, mgr, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name(), err)
		}
		return nil
	}
}

func printNames(cmd *cobra.Command, names []string) {
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log := obs.NewLogger(config.LogConfig{Level: "info", Format: "console"}, os.Stderr)
		log.Error().Err(err).Msg("migrate failed")
		os.Exit(1)
	}
}
