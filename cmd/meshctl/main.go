// Command meshctl is an operator CLI for talking to a running mesh node:
// health checks and one-off task dispatch, for smoke-testing a node
// without standing up a full delegating peer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
	"github.com/ocx/delegation-mesh/pkg/meshclient"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "mesh node base URL")
	cmd := flag.String("cmd", "health", "command to run: health | dispatch")
	taskText := flag.String("task", "", "task text for dispatch")
	taskID := flag.String("task-id", "", "task id for dispatch (generated if empty)")
	timeout := flag.Duration("timeout", 30*time.Second, "command timeout")
	flag.Parse()

	client := meshclient.New(*addr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *cmd {
	case "health":
		runHealth(ctx, client)
	case "dispatch":
		runDispatch(ctx, client, *taskID, *taskText)
	default:
		slog.Error("unknown command", "cmd", *cmd)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, client *meshclient.Client) {
	health, err := client.Health(ctx)
	if err != nil {
		slog.Error("health check failed", "error", err)
		os.Exit(1)
	}
	printJSON(health)
}

func runDispatch(ctx context.Context, client *meshclient.Client, taskID, text string) {
	if text == "" {
		slog.Error("-task is required for dispatch")
		os.Exit(1)
	}
	if taskID == "" {
		taskID = fmt.Sprintf("meshctl-%d", time.Now().UnixNano())
	}

	result, err := client.DispatchTask(ctx, core.SwarmTaskRequest{TaskID: taskID, TaskText: text})
	if err != nil {
		slog.Error("dispatch failed", "error", err)
		os.Exit(1)
	}
	printJSON(result)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("failed to marshal output", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
