package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/migrate"
	"comprobantes.org/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn     = os.Getenv("COMPROBANTES_PG_DSN")
		timeout = 30 * time.Second
		db      *sql.DB
		mgr     *migrate.Manager
	)

	openManager := func(cmd *cobra.Command, args []string) error {
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or COMPROBANTES_PG_DSN")
		}
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		mgr = migrate.NewManager(db, migrations.Files, migrations.Dir, migrations.SeedsDir)
		return nil
	}
	closeDB := func(cmd *cobra.Command, args []string) error {
		if db != nil {
			return db.Close()
		}
		return nil
	}
	withTimeout := func(run func(ctx context.Context) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx)
		}
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Schema migrations and seed data for the comprobantes database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", dsn, "PostgreSQL DSN (env COMPROBANTES_PG_DSN)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "Timeout for the whole command")

	dbCommand := func(c *cobra.Command) *cobra.Command {
		c.PreRunE = openManager
		c.PostRunE = closeDB
		return c
	}

	root.AddCommand(dbCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: withTimeout(func(ctx context.Context) error {
			applied, err := mgr.Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("schema is up to date")
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		}),
	}))

	root.AddCommand(dbCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: withTimeout(func(ctx context.Context) error {
			name, err := mgr.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Println("nothing to revert")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("reverted", name)
			return nil
		}),
	}))

	root.AddCommand(dbCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: withTimeout(func(ctx context.Context) error {
			applied, err := mgr.Status(ctx)
			if err != nil {
				return err
			}
			pending, err := mgr.Pending(ctx)
			if err != nil {
				return err
			}
			for _, item := range applied {
				fmt.Println("applied ", item)
			}
			for _, name := range pending {
				fmt.Println("pending ", name)
			}
			return nil
		}),
	}))

	root.AddCommand(dbCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load demo companies and vouchers",
		RunE: withTimeout(func(ctx context.Context) error {
			loaded, err := mgr.Seed(ctx)
			if err != nil {
				return err
			}
			for _, name := range loaded {
				fmt.Println("seeded", name)
			}
			return nil
		}),
	}))

	root.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash; reads stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
