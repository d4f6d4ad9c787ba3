package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/rigctl"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	panelURL = pflag.String("panel-url", "http://localhost:3000", "Panel base URL (or set RIGCTL_PANEL_URL)")
	rigID    = pflag.StringP("rig", "r", "", "Rig ID (or set RIGCTL_RIG_ID)")
	secret   = pflag.String("secret", "", "Device secret key (or set SECRET_KEY)")
	format   = pflag.String("format", "table", "Output format: table or json")
	timeout  = pflag.Duration("timeout", 10*time.Second, "Request timeout")
	session  = pflag.String("session", "", "Viewer session cookie value for watch (or set RIGCTL_SESSION)")
	verbose  = pflag.BoolP("verbose", "v", false, "Log reconnects during watch")
)

func main() {
	pflag.Usage = printUsage
	pflag.Parse()

	if v := os.Getenv("RIGCTL_PANEL_URL"); v != "" && !pflag.CommandLine.Changed("panel-url") {
		*panelURL = v
	}
	if *rigID == "" {
		*rigID = os.Getenv("RIGCTL_RIG_ID")
	}
	if *secret == "" {
		*secret = os.Getenv("SECRET_KEY")
	}
	if *session == "" {
		*session = os.Getenv("RIGCTL_SESSION")
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "watch" {
		handleWatch()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := rigctl.NewClient(*panelURL, *rigID, *secret)

	switch args[0] {
	case "status":
		requireRig()
		handleStatus(ctx, client, args[1:])
	case "log":
		requireRig()
		handleLog(ctx, client, args[1:])
	case "logs":
		requireRig()
		handleLogs(ctx, client)
	case "info":
		handleInfo(ctx, client)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		os.Exit(1)
	}
}

func requireRig() {
	if *rigID == "" {
		fmt.Fprintf(os.Stderr, "Error: rig id required (--rig or RIGCTL_RIG_ID env var)\n")
		os.Exit(1)
	}
}

func handleStatus(ctx context.Context, client *rigctl.Client, args []string) {
	payload, err := parseFields(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := client.PushStatus(ctx, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("status for %s accepted\n", *rigID)
}

func handleLog(ctx context.Context, client *rigctl.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: log requires a level and a message\n")
		os.Exit(1)
	}
	line := rigctl.LogLine{Level: args[0], Message: strings.Join(args[1:], " ")}
	if err := client.PushLog(ctx, line); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("log for %s accepted\n", *rigID)
}

func handleLogs(ctx context.Context, client *rigctl.Client) {
	logs, err := client.Logs(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *format == "json" {
		printJSON(logs)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tMESSAGE")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", time.UnixMilli(l.Timestamp).Format(time.RFC3339), l.Level, l.Message)
	}
	w.Flush()
}

func handleInfo(ctx context.Context, client *rigctl.Client) {
	info, err := client.Info(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *format == "json" {
		printJSON(info)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", info.Name)
	fmt.Fprintf(w, "Description:\t%s\n", info.Description)
	fmt.Fprintf(w, "Version:\t%s@%s\n", info.Version, info.Branch)
	w.Flush()
}

func handleWatch() {
	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := rigctl.NewWatcher(*panelURL, printFrame,
		rigctl.WithSession(*session),
		rigctl.WithWatchLogger(logger),
	)
	err := w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printFrame(f rigctl.Frame) error {
	if *format == "json" {
		printJSON(f)
		return nil
	}
	at := time.UnixMilli(f.At).Format(time.TimeOnly)
	switch f.Type {
	case "initial-status":
		var rigs map[string]struct {
			Online  bool    `json:"online"`
			IsInUse bool    `json:"isInUse"`
			Version *string `json:"version"`
		}
		if err := json.Unmarshal(f.Payload, &rigs); err != nil {
			return err
		}
		ids := make([]string, 0, len(rigs))
		for id := range rigs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s snapshot\nRIG\tONLINE\tIN USE\tVERSION\n", at)
		for _, id := range ids {
			r := rigs[id]
			version := "-"
			if r.Version != nil {
				version = *r.Version
			}
			fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", id, r.Online, r.IsInUse, version)
		}
		w.Flush()
	case "status-update":
		var u struct {
			SimRigID string `json:"simRigId"`
			Online   bool   `json:"online"`
			IsInUse  bool   `json:"isInUse"`
		}
		if err := json.Unmarshal(f.Payload, &u); err != nil {
			return err
		}
		fmt.Printf("%s status %s online=%t inUse=%t\n", at, u.SimRigID, u.Online, u.IsInUse)
	case "log-update":
		var u struct {
			SimRigID string          `json:"simRigId"`
			Log      rigctl.LogEntry `json:"log"`
		}
		if err := json.Unmarshal(f.Payload, &u); err != nil {
			return err
		}
		fmt.Printf("%s log    %s [%s] %s\n", at, u.SimRigID, u.Log.Level, u.Log.Message)
	default:
		fmt.Printf("%s %s\n", at, f.Type)
	}
	return nil
}

// parseFields turns key=value arguments into a status payload. Values that
// parse as JSON (true, 12, "x", {...}) keep their type; anything else is a
// string. A single argument starting with "{" is taken as the whole body.
func parseFields(args []string) (map[string]any, error) {
	payload := map[string]any{}
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return payload, nil
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		payload[key] = v
	}
	return payload, nil
}

func printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `rigctl - push sim rig status and logs to the panel

Usage:
  rigctl [flags] <command> [args]

Commands:
  status [key=value ...]     Replace the rig's status (or pass one JSON object)
  log <level> <message...>   Append a log line
  logs                       Show the rig's stored logs
  info                       Show panel name and build
  watch                      Follow live status and log events
  help                       Show this help

Flags:
%s
Examples:
  rigctl -r A status branch=dev version=1.4.0 isInUse=true
  rigctl -r A status '{"branch":"prod","devMode":false}'
  rigctl -r A log warn "GPU temperature high"
`, pflag.CommandLine.FlagUsages())
}
