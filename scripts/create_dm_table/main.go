package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/db"
	"github.com/sentialytic/reapears/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	replication := flag.Int("replication", 1, "scylla replication factor for a new keyspace")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	if cfg.Store.Driver == config.DriverScylla {
		session, err := db.NewScyllaSession(cfg.Store.Scylla.Hosts, "")
		if err != nil {
			log.Fatalf("Failed to connect to ScyllaDB: %v", err)
		}
		err = db.CreateKeyspace(session, cfg.Store.Scylla.Keyspace, *replication)
		session.Close()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Keyspace %s ready", cfg.Store.Scylla.Keyspace)
	}

	// Open creates the tables of the configured driver.
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	log.Printf("Direct message tables created successfully (%s)", cfg.Store.Driver)
}
