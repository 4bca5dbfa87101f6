// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simulateai/loopguard/pkg/ux"
	"github.com/simulateai/loopguard/services/guard"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverAddr     string
	plainOutput    bool
	incidentLimit  int
	fromArchive    bool
	resetWindow    string
	resetMaxCalls  int
	resetMaxDepth  int
	resetMaxRepeat int
	resetEnable    bool
	resetDisable   bool

	rootCmd = &cobra.Command{
		Use:   "guardctl",
		Short: "A cli to inspect and control a running loopguard daemon",
		Long: `guardctl talks to the guardd HTTP API to inspect call statistics,
				list detected incidents, trigger an emergency stop, and reset the
				guard's detection state.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show guard status and per-function call statistics",
		RunE:  runStats,
	}

	incidentsCmd = &cobra.Command{
		Use:   "incidents",
		Short: "List detected incidents, newest first",
		RunE:  runIncidents,
	}

	stopCmd = &cobra.Command{
		Use:   "stop [reason]",
		Short: "Trigger an emergency stop on the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStop,
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Clear detection state, optionally applying new thresholds",
		RunE:  runReset,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream incidents live over websocket (Ctrl-C to exit)",
		RunE:  runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8099",
		"Address of the guardd API server")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Disable colors and icons in output")

	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(incidentsCmd)
	incidentsCmd.Flags().IntVar(&incidentLimit, "limit", 20, "Maximum number of incidents to show")
	incidentsCmd.Flags().BoolVar(&fromArchive, "archive", false, "Read from the persistent archive instead of memory")

	rootCmd.AddCommand(stopCmd)

	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().StringVar(&resetWindow, "window", "", "New sliding window, e.g. '2s' (empty keeps current)")
	resetCmd.Flags().IntVar(&resetMaxCalls, "max-calls", -1, "New calls-per-window threshold (-1 keeps current, 0 disables)")
	resetCmd.Flags().IntVar(&resetMaxDepth, "max-depth", -1, "New stack depth threshold (-1 keeps current, 0 disables)")
	resetCmd.Flags().IntVar(&resetMaxRepeat, "max-repeats", -1, "New pattern repeat threshold (-1 keeps current, 0 disables)")
	resetCmd.Flags().BoolVar(&resetEnable, "enable", false, "Enable the guard after the reset")
	resetCmd.Flags().BoolVar(&resetDisable, "disable", false, "Disable the guard after the reset")

	rootCmd.AddCommand(watchCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	c := newClient(serverAddr)
	var stats guard.Stats
	if err := c.get("/v1/guard/stats", &stats); err != nil {
		return err
	}
	printStats(stats)
	return nil
}

func printStats(stats guard.Stats) {
	ux.Title("Guard Status")
	ux.KV("Enabled", strconv.FormatBool(stats.Enabled))
	ux.KV("Window", stats.Window)
	ux.KV("Sampler degraded", strconv.FormatBool(stats.SamplerDegraded))
	ux.KV("Emergency stop", strconv.FormatBool(stats.EmergencyStopExecuted))
	ux.KV("Total incidents", strconv.FormatUint(stats.TotalIncidents, 10))
	ux.Rule()

	if len(stats.Functions) == 0 {
		ux.Muted("No tracked functions yet.")
		return
	}
	names := make([]string, 0, len(stats.Functions))
	for name := range stats.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	ux.Title("Tracked Functions")
	for _, name := range names {
		fs := stats.Functions[name]
		ux.KV(name, fmt.Sprintf("%d total, %d in window", fs.TotalCalls, fs.RecentCalls))
	}
}

func runIncidents(cmd *cobra.Command, args []string) error {
	c := newClient(serverAddr)
	var incidents []incidentView
	if err := c.get(incidentsPath(incidentLimit, fromArchive), &incidents); err != nil {
		return err
	}
	if len(incidents) == 0 {
		ux.Muted("No incidents recorded.")
		return nil
	}
	source := "memory"
	if fromArchive {
		source = "archive"
	}
	ux.Title(fmt.Sprintf("Incidents (%s)", source))
	for _, inc := range incidents {
		ux.IncidentLine(inc.Timestamp.Format(time.RFC3339), inc.Kind, inc.FunctionName, inc.Count)
	}
	return nil
}

// incidentView decodes the fields guardctl renders. Keeping a local view
// avoids pulling the full incident package into the CLI.
type incidentView struct {
	Timestamp    time.Time `json:"timestamp"`
	FunctionName string    `json:"function_name"`
	Kind         string    `json:"kind"`
	Count        int       `json:"count"`
}

func runStop(cmd *cobra.Command, args []string) error {
	reason := "manual stop via guardctl"
	if len(args) == 1 {
		reason = args[0]
	}
	c := newClient(serverAddr)
	var resp guard.StopResponse
	if err := c.post("/v1/guard/stop", guard.StopRequest{Reason: reason}, &resp); err != nil {
		return err
	}
	if resp.Executed {
		ux.Success(fmt.Sprintf("Emergency stop executed: %s", resp.Reason))
	} else {
		ux.Warning("Emergency stop was already executed; nothing to do.")
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetEnable && resetDisable {
		return fmt.Errorf("--enable and --disable are mutually exclusive")
	}
	req := guard.ResetRequest{Window: resetWindow}
	if resetMaxCalls >= 0 {
		req.MaxCallsPerWindow = &resetMaxCalls
	}
	if resetMaxDepth >= 0 {
		req.MaxStackDepth = &resetMaxDepth
	}
	if resetMaxRepeat >= 0 {
		req.MaxPatternRepeats = &resetMaxRepeat
	}
	if resetEnable {
		enabled := true
		req.Enabled = &enabled
	}
	if resetDisable {
		enabled := false
		req.Enabled = &enabled
	}

	c := newClient(serverAddr)
	var stats guard.Stats
	if err := c.post("/v1/guard/reset", req, &stats); err != nil {
		return err
	}
	ux.Success("Guard reset.")
	printStats(stats)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	c := newClient(serverAddr)
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL("/v1/guard/stream"), nil)
	if err != nil {
		return fmt.Errorf("connect to incident stream: %w", err)
	}
	defer conn.Close()

	// Close the connection on Ctrl-C so ReadJSON unblocks.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			close(interrupted)
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		var event struct {
			Type     string        `json:"type"`
			Incident *incidentView `json:"incident,omitempty"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-interrupted:
				return nil
			default:
				return fmt.Errorf("stream closed: %w", err)
			}
		}
		switch event.Type {
		case "connected":
			ux.Info(fmt.Sprintf("Watching incidents from %s", serverAddr))
		case "incident":
			if event.Incident != nil {
				inc := event.Incident
				ux.IncidentLine(inc.Timestamp.Format(time.RFC3339), inc.Kind, inc.FunctionName, inc.Count)
			}
		}
	}
}
