/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/perekladoc/internal/pipeline"
	"github.com/valpere/perekladoc/internal/scheduler"
	"github.com/valpere/perekladoc/internal/store"
)

var (
	inputFile   string
	outputFile  string
	sourceLang  string
	targetLang  string
	credentials string
	projectID   string

	serviceName   string
	systranKey    string
	mymemoryEmail string

	workers     int
	maxRetries  int
	retryDelay  time.Duration
	callTimeout time.Duration

	dbPath   string
	noCache  bool
	resumeID string

	protectMarkup bool
	useGlossary   bool
	validateLang  bool

	reportJSONPath string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a Word document",
	Long: `Translate a .docx document while preserving its structure.

Every paragraph and table cell becomes one translation unit. Units are
translated in parallel (1-8 workers), transient service errors are retried
with backoff, and units that still fail keep their original text. The run
report lists every unit in document order.

Available services:
  - google    Google Translate (requires credentials or API key)
  - mymemory  MyMemory (free, 500 chars per request)
  - systran   Systran via RapidAPI (requires API key)

An interrupted run can be restarted with --resume <checkpoint-id>; units
already translated are not re-sent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}
		if workers < scheduler.MinWorkers || workers > scheduler.MaxWorkers {
			return fmt.Errorf("workers must be between %d and %d", scheduler.MinWorkers, scheduler.MaxWorkers)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, svcCfg, cleanup, err := buildService(ctx, serviceName)
		if err != nil {
			return err
		}
		defer cleanup()

		var db *store.Store
		if !noCache && dbPath != "" {
			db, err = store.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
		}
		if resumeID != "" && db == nil {
			return fmt.Errorf("--resume requires the database (remove --no-cache)")
		}

		cfg := pipeline.Config{
			SourceLang:   sourceLang,
			TargetLang:   targetLang,
			Workers:      workers,
			MaxAttempts:  maxRetries,
			RetryDelay:   retryDelay,
			CallTimeout:  callTimeout,
			ValidateLang: validateLang,
			Protect:      protectMarkup,
			UseGlossary:  useGlossary,
			Store:        db,
			Resume:       resumeID,
			Progress: func(done, total int) {
				fmt.Fprintf(os.Stderr, "\rTranslating: %d/%d units", done, total)
				if done == total {
					fmt.Fprintln(os.Stderr)
				}
			},
		}

		if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		report, err := pipeline.New(svc, svcCfg, cfg).TranslateFile(ctx, inputFile, outputFile)
		if err != nil {
			return err
		}

		if reportJSONPath != "" {
			f, err := os.Create(reportJSONPath)
			if err != nil {
				return fmt.Errorf("failed to create report file: %w", err)
			}
			defer f.Close()
			if err := report.WriteJSON(f); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}

		if err := report.WriteText(os.Stdout); err != nil {
			return err
		}
		if report.Summary.Status == pipeline.RunPartial && report.CheckpointID != "" {
			fmt.Printf("Resume with: perekladoc translate --resume %s -i %s -o %s -t %s\n",
				report.CheckpointID, inputFile, outputFile, targetLang)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input .docx file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .docx file (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language code")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code (required)")
	translateCmd.Flags().StringVarP(&credentials, "credentials", "c", "", "Path to Google Cloud credentials")
	translateCmd.Flags().StringVarP(&projectID, "project", "p", "", "Google Cloud Project ID")

	translateCmd.Flags().StringVar(&serviceName, "service", "google", "Translation service (google, mymemory, systran)")
	translateCmd.Flags().StringVar(&systranKey, "systran-key", "", "Systran API key")
	translateCmd.Flags().StringVar(&mymemoryEmail, "mymemory-email", "", "MyMemory email (for higher limits)")

	translateCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Parallel translation workers (1-8)")
	translateCmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Total attempts per unit including the first (1 = no retries)")
	translateCmd.Flags().DurationVar(&retryDelay, "retry-delay", 500*time.Millisecond, "Backoff before the first retry, doubles each retry")
	translateCmd.Flags().DurationVar(&callTimeout, "call-timeout", 30*time.Second, "Timeout of a single service call")

	translateCmd.Flags().StringVar(&dbPath, "db", "./data/perekladoc.db", "Database path for translation memory and checkpoints")
	translateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable translation memory and checkpoints")
	translateCmd.Flags().StringVar(&resumeID, "resume", "", "Resume an interrupted run from a checkpoint ID")

	translateCmd.Flags().BoolVar(&protectMarkup, "protect", false, "Protect URLs, e-mails and inline tags from translation")
	translateCmd.Flags().BoolVar(&useGlossary, "glossary", false, "Enforce glossary terms for the language pair")
	translateCmd.Flags().BoolVar(&validateLang, "validate", false, "Reject results not in the target language")

	translateCmd.Flags().StringVar(&reportJSONPath, "report", "", "Write the full JSON report to this file")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
	translateCmd.MarkFlagRequired("target")
}
