package main

import (
	"log"

	"github.com/nodeflow/nodeflow/core/controlplane/gateway"
	"github.com/nodeflow/nodeflow/core/infra/buildinfo"
	"github.com/nodeflow/nodeflow/core/infra/config"
)

func main() {
	log.Println("nodeflow api gateway starting...")
	buildinfo.Log("nodeflow-api-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("api gateway error: %v", err)
	}
}
