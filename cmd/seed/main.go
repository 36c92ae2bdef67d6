// Command seed fills the development database with demo data.
package main

import (
	"flag"
	"log"

	"campfire/internal/config"
	"campfire/internal/database"
	"campfire/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 25, "Number of users to create")
	numRooms := flag.Int("rooms", 8, "Number of rooms to create")
	numMessages := flag.Int("messages", 400, "Number of messages to create")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 uses current time)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := seed.Run(db, seed.Options{
		NumUsers:    *numUsers,
		NumRooms:    *numRooms,
		NumMessages: *numMessages,
		ShouldClean: *shouldClean,
		Seed:        *randSeed,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
