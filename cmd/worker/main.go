// Command worker runs the background push delivery worker.
package main

import (
	"log"

	"github.com/hibiken/asynq"

	"campfire/internal/config"
	"campfire/internal/database"
	"campfire/internal/push"
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

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisURL},
		asynq.Config{
			Concurrency: cfg.PushConcurrency,
			Queues:      map[string]int{cfg.PushQueueName: 1},
		},
	)

	mux := asynq.NewServeMux()
	push.NewWorker(db).Register(mux)

	log.Printf("Push worker starting (queue %q, concurrency %d)...",
		cfg.PushQueueName, cfg.PushConcurrency)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker stopped: %v", err)
	}
}
