package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"

	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/infra/redisutil"
	wf "github.com/nodeflow/nodeflow/core/workflow"
)

// Enqueues a workflows job directly, bypassing the gateway.
func main() {
	workflowID := flag.String("workflow", "", "workflow id")
	input := flag.String("input", "{}", "input JSON object")
	flag.Parse()
	if *workflowID == "" {
		log.Fatal("--workflow required")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(*input), &payload); err != nil {
		log.Fatalf("invalid input json: %v", err)
	}

	cfg := config.Load()
	client, err := redisutil.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	queues, err := config.LoadQueues(cfg.QueueConfigPath)
	if err != nil {
		log.Fatalf("load queue config: %v", err)
	}
	jobs, err := queue.New(config.QueueWorkflows, client, natsBus)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	job, err := jobs.Add(context.Background(), config.JobWorkflows,
		wf.RunPayload{WorkflowID: *workflowID, Input: payload},
		queue.OptionsFromPolicy(queues.Policy(config.JobWorkflows)))
	if err != nil {
		log.Fatalf("failed to enqueue run: %v", err)
	}
	log.Printf("enqueued workflows job job_id=%s workflow_id=%s", job.ID, *workflowID)
}
