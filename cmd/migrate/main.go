package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/migrate"
	"lexintake.org/internal/obs"
	"lexintake.org/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	dsn     string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply lexintake database migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("LEXINTAKE_DATABASE_URL"), "PostgreSQL DSN (LEXINTAKE_DATABASE_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")

	root.AddCommand(
		newManagerCmd(opts, "up", "Apply pending migrations", func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			printList(applied, "nothing to apply")
			return err
		}),
		newManagerCmd(opts, "down", "Roll back the most recent migration", func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNoMigrations) {
				fmt.Println("nothing to roll back")
				return nil
			}
			if err == nil {
				fmt.Println(name)
			}
			return err
		}),
		newManagerCmd(opts, "status", "List applied and pending migrations", func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Status(ctx)
			if err != nil {
				return err
			}
			pending, err := m.Pending(ctx)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Printf("applied  %s\n", name)
			}
			for _, name := range pending {
				fmt.Printf("pending  %s\n", name)
			}
			return nil
		}),
		newManagerCmd(opts, "seed", "Apply development seed data", func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Seed(ctx)
			printList(applied, "no seeds to apply")
			return err
		}),
		newPoliciesCmd(),
	)
	return root
}

func newManagerCmd(opts *options, use, short string, run func(context.Context, *migrate.Manager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dsn == "" {
				return errors.New("missing DSN: provide via --dsn or LEXINTAKE_DATABASE_URL")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			db, err := sql.Open("pgx", opts.dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			mgr := migrate.NewManager(db,
				migrate.Source{FS: migrations.SQL, Dir: "sql"},
				migrate.Source{FS: migrations.Seeds, Dir: "seeds"},
				migrate.WithLogger(obs.Component("migrate")),
			)
			if err := run(ctx, mgr); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			return nil
		},
	}
}

// newPoliciesCmd prints the row-level security statements derived from the
// access predicates, for diffing against the migration.
func newPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Print row-level security statements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, stmt := range auth.PolicyStatements() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), stmt); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printList(items []string, empty string) {
	if len(items) == 0 {
		fmt.Println(empty)
		return
	}
	for _, item := range items {
		fmt.Println(item)
	}
}
