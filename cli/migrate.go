package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/membership"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrator applies a store's schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// ConfigureMigrateCommand sets up the migrate command for the PostgreSQL backend.
func ConfigureMigrateCommand(app *kingpin.Application, s *Saccoguard) {
	cmd := app.Command("migrate", "Create the PostgreSQL tables for workflows and memberships")

	cmd.Action(func(c *kingpin.ParseContext) error {
		ctx := context.Background()
		if s.DatabaseURL == "" {
			exitIfError(fmt.Errorf("--database-url is required"))
		}
		pool, err := pgxpool.New(ctx, s.DatabaseURL)
		exitIfError(err)
		defer pool.Close()

		exitIfError(MigrateCommand(ctx, nil, map[string]Migrator{
			"memberships": membership.NewPostgresStore(pool),
			"workflows":   approval.NewPostgresStore(pool),
		}))
		return nil
	})
}

// MigrateCommand runs each migrator in name order.
func MigrateCommand(ctx context.Context, out io.Writer, migrators map[string]Migrator) error {
	w := stdoutOr(out)
	for _, name := range []string{"memberships", "workflows"} {
		m, ok := migrators[name]
		if !ok {
			continue
		}
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		fmt.Fprintf(w, "Migrated %s\n", name)
	}
	return nil
}
