package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/taxledger/internal/api"
	"github.com/mtlprog/taxledger/internal/classifier"
	"github.com/mtlprog/taxledger/internal/config"
	"github.com/mtlprog/taxledger/internal/database"
	"github.com/mtlprog/taxledger/internal/taxreport"
	"github.com/mtlprog/taxledger/internal/worker"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the report worker",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "memory", Usage: "keep all state in process instead of PostgreSQL"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg := config.Load()

			comps, err := open(ctx, cfg, c.Bool("memory"))
			if err != nil {
				return err
			}
			defer comps.Close()

			var hook worker.SummaryHook
			if cfg.SheetsEnabled() {
				sheetsWriter, err := taxreport.NewSheetsWriter(ctx, cfg.GoogleSheetsID, cfg.GoogleCredentialsJSON)
				if err != nil {
					return fmt.Errorf("creating sheets writer: %w", err)
				}
				hook = sheetsWriter
			}
			reportWorker := worker.NewReportWorker(comps.reports, cfg.ReportCompanies, cfg.ReportWorkerInterval, hook)
			go reportWorker.Run(ctx)

			srv := api.NewServer(cfg.HTTPPort, api.NewHandler(api.Services{
				Booker:     comps.booker,
				Ledger:     comps.ledger,
				Poster:     comps.poster,
				Predictor:  comps.predictor,
				Classifier: comps.classifier,
				Reports:    comps.reports,
				Companies:  comps.store,
				Prices:     comps.prices,
			}))

			errCh := make(chan error, 1)
			go func() {
				slog.Info("HTTP server listening", "port", cfg.HTTPPort)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("HTTP server: %w", err)
			}
			slog.Info("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
			slog.Info("Shutdown complete")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "status", Usage: "only list applied and pending migrations"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := database.Connect(c.Context, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !c.Bool("status") {
				return database.RunMigrations(c.Context, pool, migrations())
			}
			status, err := database.Status(c.Context, pool, migrations())
			if err != nil {
				return err
			}
			for _, f := range status.Applied {
				fmt.Fprintf(c.App.Writer, "applied  %s\n", f)
			}
			for _, f := range status.Pending {
				fmt.Fprintf(c.App.Writer, "pending  %s\n", f)
			}
			return nil
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "summarize a fiscal year and export it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "company", Usage: "company id", Required: true},
			&cli.IntFlag{Name: "year", Usage: "fiscal year (default: last year)"},
			&cli.StringFlag{Name: "format", Value: "json", Usage: "json, xml, csv or xlsx"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
			&cli.BoolFlag{Name: "validate", Usage: "fail when the year is not ready for submission (always on for xml)"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			comps, err := open(ctx, config.Load(), false)
			if err != nil {
				return err
			}
			defer comps.Close()

			companyID := c.String("company")
			year := c.Int("year")
			if year == 0 {
				year = time.Now().UTC().Year() - 1
			}

			if c.Bool("validate") {
				if err := comps.reports.ValidateForSubmission(ctx, companyID, year); err != nil {
					return err
				}
			}
			format := c.String("format")
			if format == "xml" {
				data, err := comps.reports.FilingXML(ctx, companyID, year)
				if err != nil {
					return err
				}
				return writeOutput(c, data)
			}

			summary, err := comps.reports.Summarize(ctx, companyID, year)
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case "json":
				data, err = json.MarshalIndent(summary, "", "  ")
			case "csv":
				data, err = taxreport.ExportCSV(summary)
			case "xlsx":
				data, err = taxreport.ExportXLSX(summary)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			return writeOutput(c, data)
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "classify a JSON array of raw chain transactions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Usage: "wallet address the flows are seen from", Required: true},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "input file (default: stdin)"},
		},
		Action: func(c *cli.Context) error {
			var in io.Reader = os.Stdin
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()
				in = f
			}

			var txs []classifier.RawTransaction
			if err := json.NewDecoder(in).Decode(&txs); err != nil {
				return fmt.Errorf("decoding transactions: %w", err)
			}
			out, err := newClassifier(config.Load()).ClassifyBatch(c.Context, txs, c.String("wallet"))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func writeOutput(c *cli.Context, data []byte) error {
	path := c.String("out")
	if path == "" {
		_, err := c.App.Writer.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Info("report written", "path", path, "bytes", len(data))
	return nil
}
