package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"

	"snapdiff/internal/resultstore"
	"snapdiff/internal/runnable"
	"snapdiff/internal/telemetry"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	}

	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("failed to load .env: %v", err)
	}

	var resultsDB string
	var reportDirectory string
	flag.StringVar(&resultsDB, "results-db", envOrDefaultValue("RESULTS_DB", ""), "SQLite database with run history served at /api/runs")
	flag.StringVar(&reportDirectory, "report-directory", envOrDefaultValue("REPORT_DIRECTORY", ""), "Directory served at /reports/")
	flag.BoolVar(&runnable.Debug, "debug", envOrDefaultValue("DEBUG", false), "Human readable logs and pprof endpoints")

	flag.Parse()

	logger, err := telemetry.NewLogger(os.Stderr, runnable.Debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := runnable.NewServer()
	server.Logger = logger
	server.ReportDirectory = reportDirectory

	if resultsDB != "" {
		store, err := resultstore.Open(resultsDB)
		if err != nil {
			log.Fatalf("failed to open result store: %v", err)
		}
		defer store.Close()
		server.Store = store
	}

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
