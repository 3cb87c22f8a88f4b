package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/yashsham/open-agent-orchestrator/config"
	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/internal/tablewriter"
)

func timelineCommand(args []string) error {
	flags := flag.NewFlagSet("timeline", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config")
	executionID := flags.String("execution-id", "", "execution to inspect")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *executionID == "" {
		return fmt.Errorf("-execution-id is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	events, err := stores.log.Read(context.Background(), *executionID, 0)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events for execution %s", *executionID)
	}

	timeline := event.BuildTimeline(*executionID, events)
	fmt.Printf("execution %s  status %s  events %d\n\n",
		timeline.ExecutionID, colorStatus(timeline.Status), timeline.TotalEvents)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"SEQ", "TIME", "TYPE", "STEP", "STATE", "TOKENS", "ERROR"})
	for _, entry := range timeline.Entries {
		step := "-"
		if entry.Step >= 0 {
			step = strconv.Itoa(entry.Step)
		}
		table.Append([]string{
			strconv.FormatInt(entry.Sequence, 10),
			entry.Timestamp.Format(time.TimeOnly),
			string(entry.Type),
			step,
			entry.State,
			strconv.Itoa(entry.TokenUsage),
			entry.Error,
		})
	}
	table.Render()
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "COMPLETED":
		return color.GreenString(status)
	case "FAILED", "POLICY_VIOLATION":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
