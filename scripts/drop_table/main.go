package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer s.Close()

	dropper, ok := s.(interface{ Drop(context.Context) error })
	if !ok {
		log.Fatalf("Store driver %q has no tables to drop", cfg.Store.Driver)
	}

	log.Println("Dropping direct message tables...")
	if err := dropper.Drop(ctx); err != nil {
		log.Fatalf("Failed to drop tables: %v", err)
	}
	log.Println("Tables dropped successfully.")
}
