// Command migrate applies the database schema. Connect already migrates
// outside production; this command exists for production rollouts where
// schema changes are applied as an explicit step.
package main

import (
	"log"

	"campfire/internal/config"
	"campfire/internal/database"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema migration applied")
}
