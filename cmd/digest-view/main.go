package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/identity"
	"github.com/joelkehle/neuro-digest/internal/store"
)

// digest-view prints aggregation-store views as JSON for inspection or
// downstream rendering.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	day := flag.String("day", "", "Print the daily view for YYYY-MM-DD")
	disease := flag.String("disease", "", "Print the cumulative view for a disease tag")
	from := flag.String("from", "", "Range start (YYYY-MM-DD), used with -to")
	to := flag.String("to", "", "Range end (YYYY-MM-DD), used with -from")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("main dotenv_load_failed err=%q", err.Error())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	var records []identity.CanonicalRecord
	switch {
	case *day != "":
		records, err = st.DailyView(*day)
	case *disease != "":
		records, err = st.DiseaseView(*disease)
	case *from != "" && *to != "":
		records, err = st.RecordsBetween(*from, *to)
	default:
		log.Fatal("usage: digest-view -day YYYY-MM-DD | -disease TAG | -from YYYY-MM-DD -to YYYY-MM-DD")
	}
	if err != nil {
		log.Fatalf("query: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
