package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"call-review-go/internal/app"
	"call-review-go/internal/config"
	"call-review-go/internal/logger"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "callreview",
		Short: "Call quality review pipeline",
		Long: `Callreview ingests recorded support calls, transcribes them, scores
the agent against the quality rubric and writes bilingual (English and
Arabic) summaries with coaching recommendations.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (default $CONFIG_PATH)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("callreview %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})
	rootCmd.AddCommand(analyzeCmd(), batchCmd(), watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp loads config and starts the pipeline. Logs go to stderr so that
// --json output on stdout stays parseable.
func openApp() (*app.App, *logger.Logger, error) {
	_ = godotenv.Load()
	log := logger.NewTo(os.Stderr, os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
