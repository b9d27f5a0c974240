package main

import (
	"log"

	"github.com/nodeflow/nodeflow/core/controlplane/retryworker"
	"github.com/nodeflow/nodeflow/core/infra/buildinfo"
	"github.com/nodeflow/nodeflow/core/infra/config"
)

func main() {
	log.Println("nodeflow retry worker starting...")
	buildinfo.Log("nodeflow-retry-worker")
	cfg := config.Load()
	if err := retryworker.Run(cfg); err != nil {
		log.Fatalf("retry worker error: %v", err)
	}
}
