package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"papertrader/internal/model"
	"papertrader/internal/report"
	sqlitestore "papertrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)

	dbPath := flag.String("db", "data/papertrader.db", "Path to SQLite database")
	limit := flag.Int("limit", model.MaxTradeList, "Number of most recent trades to load")
	showDecisions := flag.Int("decisions", 0, "Also list this many recent decisions (0=none)")
	asJSON := flag.Bool("json", false, "Print the summary as JSON instead of tables")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("[tradelog] database %s: %v", *dbPath, err)
	}
	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[tradelog] open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trades, err := store.ListTrades(ctx, *limit)
	if err != nil {
		log.Fatalf("[tradelog] list trades: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Summarize(trades)); err != nil {
			log.Fatalf("[tradelog] encode: %v", err)
		}
		return
	}

	var decisions []model.Decision
	if *showDecisions > 0 {
		decisions, err = store.ListDecisions(ctx, *showDecisions)
		if err != nil {
			log.Fatalf("[tradelog] list decisions: %v", err)
		}
	}
	if err := report.Write(os.Stdout, trades, decisions); err != nil {
		log.Fatalf("[tradelog] render: %v", err)
	}
}
