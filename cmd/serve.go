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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/perekladoc/internal/pipeline"
	"github.com/valpere/perekladoc/internal/server"
	"github.com/valpere/perekladoc/internal/store"
)

var (
	serveAddr    string
	serveService string
	serveDBPath  string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP translation server",
	Long: `Serve the document translation pipeline over HTTP.

Documents are uploaded with POST /api/translate, processed asynchronously
and fetched back with GET /api/jobs/{id}/download. GET / shows usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Flag > environment > config file, via the viper bindings below.
		addr := viper.GetString("server.addr")
		service := viper.GetString("server.service")

		svc, svcCfg, cleanup, err := buildService(ctx, service)
		if err != nil {
			return err
		}
		defer cleanup()

		var db *store.Store
		if serveDBPath != "" {
			db, err = store.New(serveDBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
		}

		base := pipeline.Config{
			SourceLang:  "auto",
			Workers:     serveWorkers,
			MaxAttempts: 3,
			RetryDelay:  500 * time.Millisecond,
			CallTimeout: 30 * time.Second,
			Store:       db,
			Logger:      log,
		}

		srv := server.New(svc, svcCfg, base, log)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveService, "service", "google", "Translation service (google, mymemory, systran)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "./data/perekladoc.db", "Database path, empty disables persistence")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 4, "Default parallel workers per job (1-8)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.service", serveCmd.Flags().Lookup("service"))
}
