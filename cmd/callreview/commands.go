package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"call-review-go/internal/actionable"
	"call-review-go/internal/aggregator"
	"call-review-go/internal/dataset"
	"call-review-go/internal/ingest"
	"call-review-go/internal/pipeline"
	"call-review-go/internal/types"
	"call-review-go/internal/watch"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file|uri>",
		Short: "Process one recording and print its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callID, _ := cmd.Flags().GetString("call-id")
			lang, _ := cmd.Flags().GetString("language")
			evalContext, _ := cmd.Flags().GetString("context")

			a, _, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()
			rep, err := a.Pool.Process(ctx, pipeline.Job{
				CallID:   callID,
				Source:   ingest.Source{URI: args[0]},
				Language: types.ParseLanguage(lang),
				Context:  evalContext,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(rep)
				return nil
			}
			printReport(rep)
			return nil
		},
	}
	cmd.Flags().String("call-id", "", "Call id (default derived from the audio digest)")
	cmd.Flags().String("language", "auto", "Language hint: en, ar or auto")
	cmd.Flags().String("context", "", "Free text context for the evaluator")
	return cmd
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <manifest.xlsx>",
		Short: "Process every call listed in a spreadsheet manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			export, _ := cmd.Flags().GetString("export")

			entries, err := dataset.LoadManifest(args[0])
			if err != nil {
				return err
			}
			a, log, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			base := filepath.Dir(args[0])
			jobs := make([]pipeline.Job, len(entries))
			for i, e := range entries {
				jobs[i] = pipeline.Job{
					CallID:   e.CallID,
					Source:   ingest.Source{URI: resolve(base, e.Audio)},
					Language: e.Language,
					Context:  e.Context,
				}
			}
			log.WithField("calls", len(jobs)).Info("batch started")

			ctx, stop := signalContext()
			defer stop()
			outcomes := a.Pool.RunAll(ctx, jobs)

			var reports []types.Report
			for i, o := range outcomes {
				if o.Err != nil {
					log.WithError(o.Err).WithField("row", entries[i].Row).Warn("call not processed")
					if !jsonOutput {
						fmt.Printf("row %d  %-24s rejected  %v\n", entries[i].Row, entries[i].CallID, o.Err)
					}
					continue
				}
				reports = append(reports, o.Report)
				if !jsonOutput {
					fmt.Printf("row %d  %-24s %-9s %s\n", entries[i].Row, o.Report.CallID, o.Report.OverallStatus, overall(o.Report))
				}
			}

			ins := aggregator.Aggregate(reports)
			card := actionable.Generate(ins)
			if jsonOutput {
				printJSON(map[string]any{
					"processed": len(reports),
					"rejected":  len(outcomes) - len(reports),
					"insight":   ins,
					"action":    card,
				})
			} else {
				fmt.Printf("\n%d processed, %d rejected\n", len(reports), len(outcomes)-len(reports))
				fmt.Printf("Insight: %s\nAction:  %s\nImpact:  %s\n", card.Insight, card.Action, card.Impact)
			}

			if export != "" {
				if err := dataset.ExportWorkbook(export, reports, log.Entry); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("export", "", "Write a report workbook (.xlsx) to this path")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process recordings as they land in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, _ := cmd.Flags().GetBool("existing")
			settle, _ := cmd.Flags().GetDuration("settle")
			lang, _ := cmd.Flags().GetString("language")

			a, log, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			submit := func(ctx context.Context, path string) error {
				h, err := a.Pool.Submit(ctx, pipeline.Job{
					Source:   ingest.Source{URI: path},
					Language: types.ParseLanguage(lang),
				})
				if err != nil {
					return err
				}
				go func() {
					rep, err := h.Wait(context.Background())
					if err != nil {
						log.WithError(err).WithField("file", filepath.Base(path)).Warn("recording rejected")
						return
					}
					log.WithCall(rep.CallID).WithField("file", filepath.Base(path)).WithField("overall_status", rep.OverallStatus).Info("report ready")
				}()
				return nil
			}
			w := watch.New(args[0], watch.Options{Settle: settle, Existing: existing}, submit, log.Entry)
			return w.Run(ctx)
		},
	}
	cmd.Flags().Bool("existing", false, "Also process recordings already in the directory")
	cmd.Flags().Duration("settle", 2*time.Second, "Quiet period before a new file is picked up")
	cmd.Flags().String("language", "auto", "Language hint for every recording")
	return cmd
}

// resolve makes manifest paths relative to the manifest's directory.
func resolve(base, ref string) string {
	if strings.Contains(ref, "://") || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(base, ref)
}

func overall(rep types.Report) string {
	if rep.Scores == nil || rep.Scores.Overall == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *rep.Scores.Overall)
}

func printReport(rep types.Report) {
	fmt.Printf("Call %s: %s (%s of audio, processed in %s)\n", rep.CallID, rep.OverallStatus,
		rep.Recording.Duration(), time.Duration(rep.DurationMs)*time.Millisecond)
	for _, s := range types.Stages {
		st := rep.StageStatus[s]
		line := fmt.Sprintf("  %-18s %s", s, st.Status)
		if st.Reason != "" {
			line += "  " + st.Reason
		}
		fmt.Println(line)
	}
	if rep.Scores.Computed() {
		fmt.Printf("\nOverall score: %s\n", overall(rep))
		for _, c := range types.Categories {
			if v, ok := rep.Scores.Score(c); ok {
				fmt.Printf("  %-12s %5.1f\n", c, v)
			} else {
				fmt.Printf("  %-12s %5s\n", c, "n/a")
			}
		}
	}
	for _, sum := range rep.Summaries {
		fmt.Printf("\nSummary (%s, %s):\n%s\n", sum.Language, sum.Source, sum.Text)
		for _, r := range sum.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	fmt.Println()
}
