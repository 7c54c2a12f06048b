package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fsw-food-be/internal/config"
	"fsw-food-be/internal/db"
	"fsw-food-be/internal/logger"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

var openDB = func() (*sql.DB, error) {
	cfg, err := config.LoadDBConfig()
	if err != nil {
		return nil, err
	}
	return db.NewDatabase(cfg)
}

func main() {
	logger.Init(os.Getenv("APP_ENV"))
	defer logger.Sync()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&dir, "dir", "d", "./migrations", "directory holding *.sql migrations")

	root.AddCommand(
		migrationCmd("up", "Apply all pending migrations", &dir, (*migrator).up),
		migrationCmd("down", "Roll back the latest applied migration", &dir, (*migrator).down),
		migrationCmd("status", "List migrations and whether they are applied", &dir, (*migrator).status),
	)
	return root
}

func migrationCmd(use, short string, dir *string, run func(*migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			m := &migrator{db: database, out: cmd.OutOrStdout()}
			files, err := m.prepare(*dir)
			if err != nil {
				return err
			}
			return run(m, files)
		},
	}
}

type migrator struct {
	db  *sql.DB
	out io.Writer
}

// prepare ensures the bookkeeping table and lists migration files in order.
func (m *migrator) prepare(dir string) ([]string, error) {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return nil, errors.Wrap(err, "ensure schema_migrations table")
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	sort.Strings(files)
	return files, nil
}

func (m *migrator) isApplied(version string) (bool, error) {
	var exists bool
	err := m.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check migration status")
	}
	return exists, nil
}

func (m *migrator) up(files []string) error {
	applied := 0
	for _, file := range files {
		version := filepath.Base(file)

		exists, err := m.isApplied(version)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrapf(err, "read %s", file)
		}

		fmt.Fprintf(m.out, "applying %s\n", version)
		err = m.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(extractMigrationPart(string(content), "Up")); err != nil {
				return errors.Wrapf(err, "migration %s failed", version)
			}
			if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return errors.Wrap(err, "record migration version")
			}
			return nil
		})
		if err != nil {
			return err
		}
		applied++
	}
	fmt.Fprintf(m.out, "%d migration(s) applied\n", applied)
	return nil
}

func (m *migrator) down(files []string) error {
	var lastVersion string
	err := m.db.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&lastVersion)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Fprintln(m.out, "no migrations to roll back")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get last applied migration")
	}

	filePath := ""
	for _, f := range files {
		if filepath.Base(f) == lastVersion {
			filePath = f
			break
		}
	}
	if filePath == "" {
		return errors.Errorf("migration file not found for version %s", lastVersion)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "read %s", filePath)
	}

	fmt.Fprintf(m.out, "rolling back %s\n", lastVersion)
	return m.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(extractMigrationPart(string(content), "Down")); err != nil {
			return errors.Wrapf(err, "rollback %s failed", lastVersion)
		}
		if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, lastVersion); err != nil {
			return errors.Wrap(err, "remove migration record")
		}
		return nil
	})
}

func (m *migrator) status(files []string) error {
	for _, file := range files {
		version := filepath.Base(file)
		exists, err := m.isApplied(version)
		if err != nil {
			return err
		}
		state := "pending"
		if exists {
			state = "applied"
		}
		fmt.Fprintf(m.out, "%-8s %s\n", state, version)
	}
	return nil
}

func (m *migrator) inTx(fn func(*sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// extractMigrationPart returns the statements between "-- +migrate <section>"
// and the next marker.
func extractMigrationPart(content string, section string) string {
	lines := strings.Split(content, "\n")
	var part strings.Builder
	var inPart bool

	for _, line := range lines {
		if strings.Contains(line, "-- +migrate "+section) {
			inPart = true
			continue
		}
		if inPart && strings.HasPrefix(line, "-- +migrate") {
			break
		}
		if inPart {
			part.WriteString(line + "\n")
		}
	}
	return part.String()
}
