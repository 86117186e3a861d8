// Command rosterctl loads rosters, runs imports and debugs matches against
// the service database from the command line.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjhen/rosterbridge/internal/config"
	"github.com/mjhen/rosterbridge/internal/db"
	"github.com/mjhen/rosterbridge/internal/decode"
	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/ingest"
	"github.com/mjhen/rosterbridge/internal/logging"
	"github.com/mjhen/rosterbridge/internal/migrate"
	"github.com/mjhen/rosterbridge/internal/records"
	"github.com/mjhen/rosterbridge/internal/roster"
	"github.com/mjhen/rosterbridge/internal/store"
)

// cli holds the state shared by every subcommand.
type cli struct {
	verbose     bool
	databaseURL string
	sqlitePath  string
	aliasPath   string
	actor       string

	cfg     config.Config
	logger  *zap.Logger
	tables  fields.Tables
	db      *sql.DB
	dialect db.Dialect
}

// newRootCmd returns the command tree and a teardown that releases the
// database and flushes the logger. Cobra skips post-run hooks when a command
// fails, so callers defer teardown instead.
func newRootCmd() (*cobra.Command, func()) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "rosterctl",
		Short:         "Roster reconciliation and school data imports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&c.databaseURL, "database-url", "", "Postgres URL (default: DATABASE_URL)")
	root.PersistentFlags().StringVar(&c.sqlitePath, "sqlite", "", "SQLite file used when no Postgres URL is set (default: SQLITE_PATH)")
	root.PersistentFlags().StringVar(&c.aliasPath, "aliases", "", "YAML alias tables overriding the built-in ones (default: ALIAS_TABLES_PATH)")
	root.PersistentFlags().StringVar(&c.actor, "actor", "rosterctl", "Actor recorded on audit events and import runs")

	root.AddCommand(
		c.migrateCmd(),
		c.rosterCmd(),
		c.importCmd(),
		c.matchCmd(),
		c.runsCmd(),
		c.verifyAuditCmd(),
	)
	return root, c.teardown
}

func (c *cli) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.databaseURL != "" {
		cfg.DatabaseURL = c.databaseURL
	}
	if c.sqlitePath != "" {
		cfg.SQLitePath = c.sqlitePath
		if c.databaseURL == "" {
			cfg.DatabaseURL = ""
		}
	}
	if c.aliasPath != "" {
		cfg.AliasTablesPath = c.aliasPath
	}
	c.cfg = cfg

	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	if c.logger, err = logging.New(level, false); err != nil {
		return err
	}
	if c.tables, err = fields.Load(cfg.AliasTablesPath); err != nil {
		return err
	}

	c.db, c.dialect, err = db.Connect(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	// Every command but migrate itself works on a migrated schema.
	if cfg.AutoMigrate && cmd.Name() != "migrate" {
		if err := migrate.RunEmbedded(cmd.Context(), c.db, c.dialect); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	return nil
}

func (c *cli) teardown() {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *cli) store() *store.SQL {
	return store.NewSQL(c.db, c.dialect)
}

func (c *cli) importer() *ingest.Importer {
	return ingest.New(c.store(), ingest.Options{
		Tables:         c.tables,
		MaxScanRows:    c.cfg.HeaderScanRows,
		FuzzyThreshold: c.cfg.FuzzyThreshold,
		StatePrefix:    c.cfg.StateIDPrefix,
		Decode:         decode.Options{MaxMemberBytes: c.cfg.MaxUploadBytes},
		Logger:         c.logger,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s: %w", path, decode.ErrTooLarge)
	}
	return os.ReadFile(path)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.RunEmbedded(cmd.Context(), c.db, c.dialect); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", c.dialect)
			return nil
		},
	}
}

func (c *cli) rosterCmd() *cobra.Command {
	rosterCmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the canonical roster",
	}
	rosterCmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Replace the roster with the students in a roster export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], c.cfg.MaxUploadBytes)
			if err != nil {
				return err
			}
			files, err := decode.Decode(cmd.Context(), filepath.Base(args[0]), data, decode.Options{})
			if err != nil {
				return err
			}
			if files[0].Err != nil {
				return files[0].Err
			}
			loaded, err := roster.LoadGrid(files[0].Grid, c.tables.Table(roster.Dataset), roster.LoadOptions{
				StatePrefix: c.cfg.StateIDPrefix,
				MaxScanRows: c.cfg.HeaderScanRows,
			})
			if err != nil {
				return err
			}
			warnings, err := roster.Validate(loaded.Students, c.cfg.StateIDPrefix)
			if err != nil {
				return err
			}
			if len(loaded.Students) == 0 {
				return errors.New("roster has no students")
			}
			if err := c.store().ReplaceStudents(cmd.Context(), c.actor, loaded.Students); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"students": len(loaded.Students),
				"errors":   loaded.Errors,
				"warnings": warnings,
				"stats":    roster.Build(loaded.Students).Stats(),
			})
		},
	})
	rosterCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			students, err := c.store().ListStudents(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), students)
		},
	})
	return rosterCmd
}

func (c *cli) importCmd() *cobra.Command {
	var dataset string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a data export, replacing every record of its dataset type",
		Long: `Import decodes the file (CSV, XLSX or a ZIP of either), matches every row
against the roster and replaces all stored records of the dataset type.
Without --type the dataset is detected from the header row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0], c.cfg.MaxUploadBytes)
			if err != nil {
				return err
			}
			report, err := c.importer().Import(cmd.Context(), ingest.Request{
				FileName: filepath.Base(args[0]),
				Data:     data,
				Dataset:  records.DatasetType(dataset),
				Actor:    c.actor,
			})
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&dataset, "type", "t", "", "Dataset type: "+datasetList())
	return cmd
}

func datasetList() string {
	names := make([]string, 0, len(records.DatasetTypes()))
	for _, d := range records.DatasetTypes() {
		names = append(names, string(d))
	}
	return strings.Join(names, ", ")
}

func (c *cli) matchCmd() *cobra.Command {
	var (
		dataset string
		row     []string
	)
	cmd := &cobra.Command{
		Use:   "match --row header=value [--row header=value ...]",
		Short: "Resolve one row against the roster and print the match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseRow(row)
			if err != nil {
				return err
			}
			var kind records.DatasetType
			if dataset != "" {
				if kind, err = records.ParseDatasetType(dataset); err != nil {
					return err
				}
			}
			res, ok, err := c.importer().Resolve(cmd.Context(), kind, values)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"matched": ok, "result": res})
		},
	}
	cmd.Flags().StringVarP(&dataset, "type", "t", "", "Dataset whose alias table is used")
	cmd.Flags().StringArrayVar(&row, "row", nil, "Cell as header=value; repeat per column")
	_ = cmd.MarkFlagRequired("row")
	return cmd
}

func parseRow(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --row %q, want header=value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := c.store().ListImportRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

func (c *cli) verifyAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit",
		Short: "Recompute the audit log hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := db.VerifyAuditChain(cmd.Context(), c.db)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Valid {
				return errors.New(result.Message)
			}
			return nil
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root, teardown := newRootCmd()
	err := root.ExecuteContext(ctx)
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
