package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/storage"
	"github.com/spf13/cobra"
)

// session 是一次命令执行期间打开的存储与引擎
type session struct {
	cfg      config.AppConfig
	registry *storage.Registry
	engine   *service.HabitEngine
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	registry, err := storage.NewDefaultRegistry(cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("prepare storage: %w", err)
	}
	engine := service.NewHabitEngine(registry.Get(), service.WithLocation(cfg.Location))
	if err := engine.Load(ctx); err != nil {
		_ = registry.Reset()
		return nil, err
	}
	return &session{cfg: cfg, registry: registry, engine: engine}, nil
}

func (s *session) Close() error {
	return s.registry.Reset()
}

func (s *session) backups() *service.BackupService {
	return service.NewBackupService(s.engine, s.cfg.Platform, s.cfg.AppVersion)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "habitctl",
		Short:         "Manage habitflow data from the command line",
		Long:          `habitctl exports, validates and restores habitflow backups and runs legacy storage migration against the configured backends.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup bundle of all habits, completions and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout(), output)
		},
	}
	exportCmd.Flags().StringVarP(&output, "out", "o", "", "Write the backup to this file instead of stdout")

	validateCmd := &cobra.Command{
		Use:   "validate [backup file]",
		Short: "Check a backup file without restoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args[0])
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore [backup file]",
		Short: "Replace all data with the contents of a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy flat-store data into the selected backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout())
		},
	}

	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Show which storage backend is selected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStorage(cmd.Context(), cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(exportCmd, validateCmd, restoreCmd, migrateCmd, storageCmd)
	return rootCmd
}

func runExport(ctx context.Context, out io.Writer, path string) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bundle, err := s.backups().CreateBackup(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}

	if path == "" {
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(out, "exported %d habits and %d completions to %s\n", bundle.Metadata.HabitCount, bundle.Metadata.CompletionCount, path)
	return nil
}

func runValidate(out io.Writer, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	// 校验不依赖存储，引擎仅用于构造服务
	backups := service.NewBackupService(service.NewHabitEngine(storage.NewFlatAdapter(nil, storage.Options{})), "", "")
	result := backups.ValidateBackup(raw)
	if result.Valid {
		fmt.Fprintf(out, "%s is a valid backup\n", path)
		return nil
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(out, "- %s\n", issue)
	}
	return fmt.Errorf("%s is not a valid backup (%d issues)", path, len(result.Issues))
}

func runRestore(ctx context.Context, out io.Writer, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bundle, err := s.backups().RestoreFromBackup(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "restored %d habits into %s backend\n", len(bundle.Data.Habits), s.engine.Adapter().Kind())
	return nil
}

func runMigrate(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	registry, err := storage.NewDefaultRegistry(cfg.Storage())
	if err != nil {
		return fmt.Errorf("prepare storage: %w", err)
	}
	defer registry.Reset()

	adapter := registry.Get()
	migrated, err := adapter.MigrateFromLocalStorage(ctx)
	if err != nil {
		return fmt.Errorf("migrate legacy data: %w", err)
	}
	if migrated {
		fmt.Fprintf(out, "migrated legacy data into %s backend\n", adapter.Kind())
	} else {
		fmt.Fprintf(out, "nothing to migrate for %s backend\n", adapter.Kind())
	}
	return nil
}

func runStorage(ctx context.Context, out io.Writer) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sc := s.cfg.Storage()
	fmt.Fprintf(out, "selected: %s\n", s.engine.Adapter().Kind())
	fmt.Fprintf(out, "preferences: %s\n", orDisabled(sc.PreferencesPath))
	fmt.Fprintf(out, "localdb: %s\n", orDisabled(sc.LocalDBPath))
	fmt.Fprintf(out, "legacy: %s\n", orDisabled(sc.LegacyStorePath))
	fmt.Fprintf(out, "habits: %d\n", len(s.engine.Habits()))
	return nil
}

func orDisabled(path string) string {
	if strings.TrimSpace(path) == "" {
		return "(disabled)"
	}
	return path
}
