package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/yashsham/open-agent-orchestrator/config"
	"github.com/yashsham/open-agent-orchestrator/orchestrator"
	"github.com/yashsham/open-agent-orchestrator/policy"
	oao "github.com/yashsham/open-agent-orchestrator"
)

var osStderr = os.Stderr

func runCommand(args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config")
	task := flags.String("task", "", "task to execute")
	maxSteps := flags.Int("max-steps", 10, "maximum steps")
	maxTokens := flags.Int("max-tokens", 4000, "maximum cumulative tokens")
	maxToolCalls := flags.Int("max-tool-calls", 5, "maximum tool calls")
	timeout := flags.Duration("timeout", 30*time.Second, "execution timeout")
	asJSON := flags.Bool("json", false, "print the report as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *task == "" {
		return fmt.Errorf("-task is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	policyCfg := policy.Config{
		MaxSteps:         *maxSteps,
		MaxTokens:        *maxTokens,
		MaxToolCalls:     *maxToolCalls,
		ExecutionTimeout: *timeout,
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Log:            stores.log,
		Snapshots:      stores.snapshots,
		EventRetention: cfg.EventRetention,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(context.Background(), &echoAgent{}, *task, policyCfg)
	if err != nil {
		return err
	}

	if *asJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	printReport(report)
	return nil
}

func printReport(report *oao.ExecutionReport) {
	status := color.GreenString(string(report.Status))
	if !report.Succeeded() {
		status = color.RedString(string(report.Status))
	}
	fmt.Printf("execution  %s\n", report.ExecutionID)
	fmt.Printf("status     %s\n", status)
	fmt.Printf("agent      %s\n", report.AgentName)
	fmt.Printf("steps      %d\n", report.TotalSteps)
	fmt.Printf("tokens     %d\n", report.TokenUsage)
	fmt.Printf("tool calls %d\n", report.ToolCalls)
	fmt.Printf("duration   %.3fs\n", report.ExecutionTimeSeconds)
	if report.FinalOutput != "" {
		fmt.Printf("output     %s\n", report.FinalOutput)
	}
	if report.Failure != nil {
		fmt.Printf("failure    %s: %s\n", color.RedString(string(report.Failure.Kind)), report.Failure.Detail)
	}
}
