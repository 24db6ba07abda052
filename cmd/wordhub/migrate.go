package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/wordhub/internal/app"
	"github.com/at-ishikawa/wordhub/internal/migration"
	"github.com/at-ishikawa/wordhub/internal/pdf"
)

func newMigrateCommand() *cobra.Command {
	var (
		sources   []string
		target    string
		batchSize int
		dryRun    bool
		quiet     bool
		reportPDF string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Normalize legacy partitions into the canonical partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if len(sources) == 0 {
					for _, p := range a.Config.Partitions.Fallback {
						sources = append(sources, p.Name)
					}
				}
				if target == "" {
					target = a.Config.Partitions.Canonical
				}
				if batchSize <= 0 {
					batchSize = a.Config.Migration.BatchSize
				}

				out := cmd.OutOrStdout()
				progress := out
				if quiet {
					progress = io.Discard
				}
				runner := a.NewRunner(migration.Options{
					DryRun: dryRun,
					Writer: progress,
				})
				report, err := runner.Run(cmd.Context(), sources, target, batchSize)
				printMigrationSummary(out, report)
				if reportPDF != "" {
					path, pdfErr := pdf.RenderMarkdown([]byte(report.Markdown()), reportPDF)
					if pdfErr != nil {
						return fmt.Errorf("pdf.RenderMarkdown() > %w", pdfErr)
					}
					fmt.Fprintf(out, "Report written to %s\n", path)
				}
				if err != nil {
					return fmt.Errorf("runner.Run() > %w", err)
				}
				if report.Totals.Errors > 0 {
					return fmt.Errorf("migration finished with %d error(s)", report.Totals.Errors)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "Source partitions in priority order (default: the configured fallback partitions)")
	cmd.Flags().StringVar(&target, "target", "", "Target partition (default: the canonical partition)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per write (default: migration.batch_size)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Normalize and validate without writing")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")
	cmd.Flags().StringVar(&reportPDF, "report-pdf", "", "Write the migration report as a PDF to this path")
	return cmd
}

func printMigrationSummary(w io.Writer, report *migration.Report) {
	fmt.Fprintln(w)
	boldColor.Fprintf(w, "Migration into %s", report.Target)
	if report.DryRun {
		fmt.Fprint(w, " (dry-run mode, no changes made)")
	}
	if report.Cancelled {
		warningColor.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)

	for _, pr := range report.Partitions {
		fmt.Fprintf(w, "  %-20s %-10s total=%d ", pr.Partition, pr.State, pr.Total)
		printCounts(w, pr.Counts)
	}
	fmt.Fprintf(w, "  %-20s %-10s total=%d ", "TOTAL", "", report.Totals.Total)
	printCounts(w, report.Totals)
}

func printCounts(w io.Writer, c migration.Counts) {
	countColor(c.Migrated, successColor).Fprintf(w, "migrated=%d ", c.Migrated)
	countColor(c.Skipped, warningColor).Fprintf(w, "skipped=%d ", c.Skipped)
	countColor(c.Errors, failureColor).Fprintf(w, "errors=%d\n", c.Errors)
}

func newAuditCommand() *cobra.Command {
	var partition string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Validate and score every record of a partition without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if partition == "" {
					partition = a.Config.Partitions.Canonical
				}
				report, err := a.NewAuditor().Audit(cmd.Context(), partition)
				if err != nil {
					return fmt.Errorf("auditor.Audit(%s) > %w", partition, err)
				}

				out := cmd.OutOrStdout()
				if err := writeOutput(out, report); err != nil {
					return err
				}
				boldColor.Fprintf(out, "%s: ", report.Partition)
				countColor(report.Valid, successColor).Fprintf(out, "%d valid ", report.Valid)
				countColor(report.Invalid, failureColor).Fprintf(out, "%d invalid ", report.Invalid)
				fmt.Fprintf(out, "of %d, average score %.1f\n", report.Total, report.AverageScore)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "Partition to audit (default: the canonical partition)")
	return cmd
}
