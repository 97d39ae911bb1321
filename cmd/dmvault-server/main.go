package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dmvault/dmvault/internal/config"
	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/domain/transfer"
	"github.com/dmvault/dmvault/internal/platform/codec"
	"github.com/dmvault/dmvault/internal/platform/db"
	"github.com/dmvault/dmvault/internal/platform/server"
	"github.com/dmvault/dmvault/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "dmvault-server",
		Short:        "Encounter vault API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	e, err := server.New(cfg, logger, store)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", cfg.AppVersion).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			count, err := migrateUp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, cfg.StoreDriver)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			statuses, err := migrationStatus(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), cfg.StoreDriver, statuses)
			return nil
		},
	})

	return cmd
}

func migrateUp(ctx context.Context, cfg *config.Config) (int, error) {
	if cfg.StoreDriver == config.StoreSQLite {
		before, err := migrationStatus(ctx, cfg)
		if err != nil {
			return 0, err
		}
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLite())
		if err != nil {
			return 0, err
		}
		defer sqlDB.Close()
		pending := 0
		for _, s := range before {
			if !s.Applied {
				pending++
			}
		}
		return pending, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return 0, err
	}
	defer pool.Close()
	return db.NewMigrator(pool, migrations.Postgres()).Up(ctx)
}

func migrationStatus(ctx context.Context, cfg *config.Config) ([]db.MigrationStatus, error) {
	if cfg.StoreDriver == config.StoreSQLite {
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, nil)
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
		return db.SQLiteStatus(ctx, sqlDB, migrations.SQLite())
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return db.NewMigrator(pool, migrations.Postgres()).Status(ctx)
}

func printStatus(w io.Writer, driver string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for %s\n", driver)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// openOrchestrator wires a transfer orchestrator directly over the
// configured store for the offline backup and restore commands.
func openOrchestrator(ctx context.Context, cfg *config.Config) (*transfer.Orchestrator, func(), error) {
	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := encounter.NewService(store.Repo)
	svc.SetAppVersion(cfg.AppVersion)
	orch := transfer.NewOrchestrator(svc)
	orch.SetLogger(newLogger(cfg))
	orch.SetConcurrency(cfg.TransferConcurrency)
	return orch, store.Close, nil
}

type backupFlags struct {
	user           string
	format         string
	output         string
	characters     bool
	privateNotes   bool
	gzipCompressed bool
}

func backupCmd() *cobra.Command {
	var f backupFlags
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup of one user's encounters to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, closeStore, err := openOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			path, err := runBackup(cmd.Context(), orch, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.user, "user", "", "Owner whose encounters are backed up (required)")
	cmd.Flags().StringVar(&f.format, "format", codec.FormatJSON, "Backup format: json or xml")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file or directory (default: generated name in the current directory)")
	cmd.Flags().BoolVar(&f.characters, "include-character-sheets", false, "Embed character sheets")
	cmd.Flags().BoolVar(&f.privateNotes, "include-private-notes", false, "Include participant notes")
	cmd.Flags().BoolVar(&f.gzipCompressed, "gzip", false, "Gzip the backup")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runBackup(ctx context.Context, orch *transfer.Orchestrator, f backupFlags) (string, error) {
	opts := transfer.BackupOptions{
		Format:                 f.format,
		IncludeCharacterSheets: f.characters,
		IncludePrivateNotes:    f.privateNotes,
	}
	if f.gzipCompressed {
		opts.Compress = transfer.CompressGzip
	}
	p, err := orch.CreateBackup(ctx, f.user, opts)
	if err != nil {
		return "", err
	}

	path := f.output
	if path == "" {
		path = p.Filename
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, p.Filename)
	}
	if err := os.WriteFile(path, p.Data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

type restoreFlags struct {
	user          string
	file          string
	format        string
	preserveIDs   bool
	noCreateChars bool
	overwrite     bool
	only          []string
}

func restoreCmd() *cobra.Command {
	var f restoreFlags
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup file into one user's account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, closeStore, err := openOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := runRestore(cmd.Context(), orch, f)
			if err != nil {
				return err
			}
			printRestore(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.user, "user", "", "Owner of the restored encounters (required)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Backup file; .gz files are decompressed (required)")
	cmd.Flags().StringVar(&f.format, "format", "", "Backup format: json or xml (default: from the file extension)")
	cmd.Flags().BoolVar(&f.preserveIDs, "preserve-ids", false, "Keep encounter and participant ids")
	cmd.Flags().BoolVar(&f.noCreateChars, "no-create-characters", false, "Unlink participants whose character is missing instead of recreating it")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Replace existing encounters with the same id")
	cmd.Flags().StringSliceVar(&f.only, "only", nil, "Restore only these entries, by name or encounter-<index>")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runRestore(ctx context.Context, orch *transfer.Orchestrator, f restoreFlags) (*transfer.RestoreResult, error) {
	data, err := os.ReadFile(f.file)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	name := f.file
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		if data, err = codec.Gunzip(data); err != nil {
			return nil, err
		}
		name = name[:len(name)-len(".gz")]
	}

	format := f.format
	if format == "" {
		format = formatFromPath(name)
	}

	opts := transfer.DefaultRestoreOptions(f.user)
	opts.PreserveIDs = f.preserveIDs
	opts.CreateMissingCharacters = !f.noCreateChars
	opts.OverwriteExisting = f.overwrite
	if len(f.only) > 0 {
		opts.SelectiveRestore = f.only
	}
	return orch.Restore(ctx, string(data), format, opts)
}

// formatFromPath picks xml for .xml files and json otherwise.
func formatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return codec.FormatXML
	}
	return codec.FormatJSON
}

func printRestore(w io.Writer, r *transfer.RestoreResult) {
	fmt.Fprintf(w, "Restored %d of %d encounter(s) from backup dated %s\n",
		r.Summary.SuccessfullyRestored, r.Summary.TotalEncounters, r.Summary.BackupDate.Format(time.RFC3339))
	for _, e := range r.Restored {
		fmt.Fprintf(w, "  + %s -> %s (%d participants)\n", e.OriginalName, e.ImportedID, e.ParticipantCount)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.EncounterName, e.Error)
	}
}
