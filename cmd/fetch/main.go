// Package main is a one-shot command line client for the acquisition pipeline.
// It fetches a batch of symbols through the same cache, quota and breaker stack the
// service uses, or prints today's quota status, and writes JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/quotafeed/internal/config"
	"github.com/aristath/quotafeed/internal/di"
	"github.com/aristath/quotafeed/internal/domain"
	"github.com/aristath/quotafeed/internal/utils"
	"github.com/aristath/quotafeed/pkg/logger"
)

type batchOutput struct {
	RunID    string                   `json:"run_id"`
	Results  map[string]domain.Series `json:"results"`
	Skipped  map[string]string        `json:"skipped,omitempty"`
	Failed   map[string]string        `json:"failed,omitempty"`
	Deferred []string                 `json:"deferred,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("QUOTAFEED_CONFIG"), "path to a YAML config file")
		symbols    = flag.String("symbols", "", "comma separated symbols, e.g. AAPL,MSFT")
		start      = flag.String("start", "", "first day, YYYY-MM-DD")
		end        = flag.String("end", "", "last day, YYYY-MM-DD")
		status     = flag.Bool("status", false, "print quota status and exit")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Pretty: true})

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	code := run(container, *status, *symbols, *start, *end)

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}
	os.Exit(code)
}

func run(container *di.Container, status bool, symbols, start, end string) int {
	if status {
		s, err := container.Governor.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "quota status: %v\n", err)
			return 1
		}
		return printJSON(s)
	}

	list := utils.ParseSymbols(symbols)
	if len(list) == 0 || start == "" || end == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch -symbols AAPL,MSFT -start 2024-01-01 -end 2024-01-31")
		flag.PrintDefaults()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := container.Fetcher.FetchBatch(ctx, list, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	out := batchOutput{
		RunID:    report.RunID,
		Results:  report.Results,
		Skipped:  make(map[string]string, len(report.Skipped)),
		Failed:   make(map[string]string, len(report.Failed)),
		Deferred: report.Deferred,
	}
	for symbol, err := range report.Skipped {
		out.Skipped[symbol] = err.Error()
	}
	for symbol, err := range report.Failed {
		out.Failed[symbol] = err.Error()
	}

	if code := printJSON(out); code != 0 {
		return code
	}
	if len(report.Failed) > 0 {
		return 1
	}
	return 0
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
