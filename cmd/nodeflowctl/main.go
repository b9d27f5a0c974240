package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	wf "github.com/nodeflow/nodeflow/core/workflow"
	sdk "github.com/nodeflow/nodeflow/sdk/client"
)

const defaultGateway = "http://localhost:3001"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "menu":
		runMenuCmd(args)
	case "workflow":
		runWorkflowCmd(args)
	case "execution":
		runExecutionCmd(args)
	case "job":
		runJobCmd(args)
	case "user":
		runUserCmd(args)
	default:
		usage()
		os.Exit(1)
	}
}

func runMenuCmd(args []string) {
	fs := newFlagSet("menu")
	fs.ParseArgs(args)
	items, err := newClient(*fs.gateway, *fs.token).Menu(context.Background())
	check(err)
	printJSON(items)
}

func runWorkflowCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "save":
		fs := newFlagSet("workflow save")
		file := fs.String("file", "", "workflow json file")
		fs.ParseArgs(args[1:])
		if *file == "" {
			fail("workflow file required")
		}
		var def wf.Workflow
		loadJSON(*file, &def)
		saved, err := newClient(*fs.gateway, *fs.token).SaveWorkflow(context.Background(), &def)
		check(err)
		fmt.Println(saved.ID)
	case "list":
		fs := newFlagSet("workflow list")
		limit := fs.Int("limit", 0, "max workflows")
		fs.ParseArgs(args[1:])
		list, err := newClient(*fs.gateway, *fs.token).ListWorkflows(context.Background(), *limit)
		check(err)
		printJSON(list)
	case "get":
		fs := newFlagSet("workflow get")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "workflow id required")
		def, err := newClient(*fs.gateway, *fs.token).GetWorkflow(context.Background(), id)
		check(err)
		printJSON(def)
	case "delete":
		fs := newFlagSet("workflow delete")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "workflow id required")
		check(newClient(*fs.gateway, *fs.token).DeleteWorkflow(context.Background(), id))
	case "execute":
		fs := newFlagSet("workflow execute")
		input := fs.String("input", "", "input JSON (inline or path)")
		async := fs.Bool("async", false, "enqueue instead of running inline")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "workflow id required")
		payload := parseInput(*input)
		client := newClient(*fs.gateway, *fs.token)
		if *async {
			run, err := client.ExecuteAsync(context.Background(), id, payload)
			check(err)
			printJSON(run)
			return
		}
		res, err := client.Execute(context.Background(), id, payload)
		check(err)
		if res.ExecutionID != "" {
			fmt.Fprintln(os.Stderr, "execution:", res.ExecutionID)
		}
		printJSON(res.Context)
	case "executions":
		fs := newFlagSet("workflow executions")
		limit := fs.Int("limit", 0, "max executions")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "workflow id required")
		list, err := newClient(*fs.gateway, *fs.token).ListExecutions(context.Background(), id, *limit)
		check(err)
		printJSON(list)
	default:
		usage()
		os.Exit(1)
	}
}

func runExecutionCmd(args []string) {
	if len(args) < 1 || args[0] != "get" {
		usage()
		os.Exit(1)
	}
	fs := newFlagSet("execution get")
	fs.ParseArgs(args[1:])
	id := requireArg(fs, "execution id required")
	exec, err := newClient(*fs.gateway, *fs.token).GetExecution(context.Background(), id)
	check(err)
	printJSON(exec)
}

func runJobCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "get":
		fs := newFlagSet("job get")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "job id required")
		job, err := newClient(*fs.gateway, *fs.token).GetJob(context.Background(), id)
		check(err)
		printJSON(job)
	case "failed":
		fs := newFlagSet("job failed")
		limit := fs.Int("limit", 0, "max entries")
		fs.ParseArgs(args[1:])
		entries, err := newClient(*fs.gateway, *fs.token).ListFailedJobs(context.Background(), *limit)
		check(err)
		printJSON(entries)
	default:
		usage()
		os.Exit(1)
	}
}

type flagSet struct {
	*flag.FlagSet
	gateway *string
	token   *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	gateway := fs.String("gateway", envOr("NODEFLOW_GATEWAY", defaultGateway), "gateway base url")
	token := fs.String("token", envOr("NODEFLOW_TOKEN", ""), "bearer token")
	return &flagSet{FlagSet: fs, gateway: gateway, token: token}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func requireArg(fs *flagSet, msg string) string {
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fail(msg)
	}
	return fs.Arg(0)
}

func newClient(gateway, token string) *sdk.Client {
	return sdk.New(strings.TrimRight(gateway, "/"), token)
}

// parseInput accepts inline JSON or a path to a JSON file.
func parseInput(raw string) map[string]any {
	payload := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return payload
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			fail(fmt.Sprintf("invalid json: %v", err))
		}
		return payload
	}
	loadJSON(raw, &payload)
	return payload
}

func loadJSON(path string, out any) {
	// #nosec G304 -- CLI explicitly reads local files provided by the operator.
	data, err := os.ReadFile(path)
	check(err)
	if err := json.Unmarshal(data, out); err != nil {
		fail(fmt.Sprintf("invalid json: %v", err))
	}
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`nodeflowctl - nodeflow gateway CLI

Usage:
  nodeflowctl menu
  nodeflowctl workflow save --file workflow.json
  nodeflowctl workflow list [--limit N]
  nodeflowctl workflow get <workflow_id>
  nodeflowctl workflow delete <workflow_id>
  nodeflowctl workflow execute <workflow_id> [--input input.json|'{...}'] [--async]
  nodeflowctl workflow executions <workflow_id> [--limit N]
  nodeflowctl execution get <execution_id>
  nodeflowctl job get <job_id>
  nodeflowctl job failed [--limit N]
  nodeflowctl user list [--limit N]
  nodeflowctl user get <user_id>
  nodeflowctl user create --id ID --email EMAIL [--name NAME] [--role user|admin]
  nodeflowctl user update <user_id> [--name NAME] [--avatar-url URL] [--role user|admin]
  nodeflowctl user delete <user_id>

Global flags:
  --gateway   Gateway base URL (default from NODEFLOW_GATEWAY)
  --token     Bearer token (default from NODEFLOW_TOKEN)
`)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
