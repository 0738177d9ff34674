package main

import (
	"PriceScraper/internal/app"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Collect marketplace prices from catalog, seller and product-page sources.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML config")

	root.AddCommand(newCollectCommand(&configPath))
	root.AddCommand(newExportCommand(&configPath))
	root.AddCommand(newRunsCommand(&configPath))
	return root
}

func newCollectCommand(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection and write every configured output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			run, err := application.Collect(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s, %d records, %d unmatched, %d filled from pages\n",
				run.ID, run.State, run.Records, run.Unmatched, run.FallbackFilled)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	return cmd
}

func newExportCommand(configPath *string) *cobra.Command {
	var runID, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored run from SQLite to xlsx.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			name, err := application.ExportRun(cmd.Context(), runID, output)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "xlsx file or directory (default: output.xlsx from config)")
	return cmd
}

func newRunsCommand(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			runs, err := application.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tRECORDS\tUNMATCHED\tFAILED SOURCES")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.State, r.Records, r.Unmatched, len(r.FailedSources))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
