// Command skoolctl is the operator CLI: it validates curriculum catalogs,
// migrates the database and exports learner reports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/platform/config"
	"github.com/p-n-ai/skoolup/internal/platform/database"
	"github.com/p-n-ai/skoolup/internal/report"
	"github.com/p-n-ai/skoolup/internal/session"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger())

	if err := rootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "skoolctl",
		Short:         "SkoolUP operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfg.CurriculumPath, "curriculum", cfg.CurriculumPath, "Curriculum catalog root")
	cmd.PersistentFlags().StringVar(&cfg.Database.URL, "database-url", cfg.Database.URL, "PostgreSQL connection URL")

	cmd.AddCommand(
		validateCmd(cfg),
		migrateCmd(cfg),
		reportCmd(cfg),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "skoolctl version %s\n", version)
			},
		},
	)
	return cmd
}

func validateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate catalog files against the schema",
		Long: `Validate checks every catalog file against the embedded JSON schema and the
ID uniqueness rules. Without arguments it validates the whole catalog root and
loads it once to catch subjects defined twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			files := args
			if len(files) == 0 {
				var err error
				files, err = catalogFiles(cfg.CurriculumPath)
				if err != nil {
					return err
				}
			}

			failed := 0
			for _, path := range files {
				if err := curriculum.ValidateFile(path); err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d catalog files invalid", failed, len(files))
			}

			if len(args) == 0 {
				loader, err := curriculum.NewLoader(curriculum.LoaderConfig{
					RootDir:          cfg.CurriculumPath,
					DefaultStepXP:    cfg.Progress.DefaultStepXP,
					DefaultChapterXP: cfg.Progress.DefaultChapterXP,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "catalog digest %s\n", loader.Digest())
			}
			return nil
		},
	}
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := database.New(ctx, config.DatabaseConfig{URL: cfg.Database.URL, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db.Pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func reportCmd(cfg *config.Config) *cobra.Command {
	var (
		output   string
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "report <learner-id>",
		Short: "Export a learner's progression as XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learnerID := args[0]
			snap, err := loadSnapshot(cmd.Context(), cfg, learnerID, fromFile)
			if err != nil {
				return err
			}

			var subjects report.SubjectLookup
			if loader, err := curriculum.NewLoader(curriculum.DefaultLoaderConfig(cfg.CurriculumPath)); err == nil {
				subjects = loader
			} else {
				slog.Warn("catalog unavailable, using subject ids", "error", err)
			}

			if output == "" {
				output = "skoolup-" + learnerID + ".xlsx"
			}
			if output == "-" {
				return report.Write(cmd.OutOrStdout(), snap, subjects)
			}
			if err := writeReportFile(output, snap, subjects); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file ("-" for stdout)`)
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read the snapshot from a JSON file instead of the database")
	return cmd
}

// writeReportFile writes the workbook to path, including the error from
// closing it.
func writeReportFile(path string, snap *session.Snapshot, subjects report.SubjectLookup) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, snap, subjects); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, cfg *config.Config, learnerID, fromFile string) (*session.Snapshot, error) {
	if fromFile != "" {
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return nil, err
		}
		return session.Decode(data)
	}

	db, err := database.New(ctx, config.DatabaseConfig{URL: cfg.Database.URL, MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	store, err := session.NewPostgresStore(db.Pool)
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, learnerID)
}

func catalogFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing catalog %s: %w", root, err)
	}
	return files, nil
}
