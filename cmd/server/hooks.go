package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/traylinx/switchAIDispatch/internal/config"
	"github.com/traylinx/switchAIDispatch/internal/hooks"
)

// HooksCommand represents available hooks subcommands
type HooksCommand string

const (
	HooksList HooksCommand = "list"
	HooksTest HooksCommand = "test"
)

// HooksOptions holds the command-line options for hooks commands
type HooksOptions struct {
	Command   HooksCommand
	Event     string
	SessionID string
	Data      string // JSON data for test
	Format    string
}

// ParseHooksCommand parses command arguments
func ParseHooksCommand(args []string) (*HooksOptions, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing subcommand")
	}

	opts := &HooksOptions{Command: HooksCommand(args[0])}
	flagSet := flag.NewFlagSet("hooks", flag.ContinueOnError)
	flagSet.StringVar(&opts.Event, "event", "", "Event type for test (e.g. turn_degraded)")
	flagSet.StringVar(&opts.SessionID, "session", "hooks-test", "Session id of the simulated event")
	flagSet.StringVar(&opts.Data, "data", "{}", "JSON data payload for test")
	flagSet.StringVar(&opts.Format, "format", "table", "Output format (table/json)")

	if err := flagSet.Parse(args[1:]); err != nil {
		return nil, err
	}
	return opts, nil
}

func printHooksUsage() {
	fmt.Println("Usage: switchAIDispatch hooks <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  list           List all configured hooks")
	fmt.Println("  test           Fire a simulated event through the configured hooks")
	fmt.Println("\nOptions:")
	fmt.Println("  --event <str>   Event type")
	fmt.Println("  --session <str> Session id")
	fmt.Println("  --data <json>   Simulated event data (JSON)")
	fmt.Println("  --format <str>  Output format")
	fmt.Println("\nExamples:")
	fmt.Println("  switchAIDispatch hooks list --format json")
	fmt.Println("  switchAIDispatch hooks test --event turn_degraded --data '{\"agent\":\"faq\"}'")
}

func handleHooksCommand(configPath string, args []string) {
	opts, err := ParseHooksCommand(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		printHooksUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.HooksDir == "" {
		fmt.Println("No hooks-dir configured.")
		return
	}

	manager := hooks.NewHookManager(cfg.HooksDir, nil)
	if err = manager.LoadHooks(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	switch opts.Command {
	case HooksList:
		doHooksList(cfg.HooksDir, manager, opts)
	case HooksTest:
		doHooksTest(manager, opts)
	default:
		fmt.Printf("Unknown command: %s\n", opts.Command)
		printHooksUsage()
		os.Exit(1)
	}
}

func doHooksList(dir string, manager *hooks.HookManager, opts *HooksOptions) {
	allHooks := manager.GetHooks()
	if len(allHooks) == 0 {
		fmt.Println("No hooks configured.")
		fmt.Printf("Create hook files in: %s\n", dir)
		return
	}

	if opts.Format == "json" {
		for _, hook := range allHooks {
			data, _ := json.MarshalIndent(hook, "", "  ")
			fmt.Println(string(data))
		}
		return
	}

	fmt.Println("Configured Hooks")
	fmt.Println("================")
	fmt.Printf("Hooks Directory: %s\n", dir)
	fmt.Printf("Total Hooks: %d\n\n", len(allHooks))
	for i, hook := range allHooks {
		status := "enabled"
		if !hook.Enabled {
			status = "disabled"
		}
		fmt.Printf("[%d] %s (%s)\n", i+1, hook.Name, status)
		fmt.Printf("    ID: %s\n", hook.ID)
		fmt.Printf("    Event: %s\n", hook.Event)
		fmt.Printf("    Action: %s\n", hook.Action)
		if hook.Condition != "" {
			fmt.Printf("    Condition: %s\n", hook.Condition)
		}
		if hook.Description != "" {
			fmt.Printf("    Description: %s\n", hook.Description)
		}
		fmt.Printf("    File: %s\n\n", hook.FilePath)
	}
}

func doHooksTest(manager *hooks.HookManager, opts *HooksOptions) {
	event := hooks.HookEvent(opts.Event)
	known := false
	for _, e := range hooks.AllEvents {
		if e == event {
			known = true
			break
		}
	}
	if !known {
		fmt.Printf("Error: unknown event %q\n", opts.Event)
		os.Exit(1)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(opts.Data), &data); err != nil {
		fmt.Printf("Error: invalid --data JSON: %v\n", err)
		os.Exit(1)
	}

	fired := manager.Fire(&hooks.EventContext{
		Event:     event,
		SessionID: opts.SessionID,
		Data:      data,
	})
	fmt.Printf("%s matched %d hook(s).\n", event, fired)
}
