package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"localmind/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect persisted session event streams",
	RunE:  runSessionList,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ids, err := session.List(app.appDir)
	if err != nil {
		return fmt.Errorf("! %v", err)
	}
	if len(ids) == 0 {
		fmt.Println("no saved sessions")
		return nil
	}
	fmt.Println(strings.Join(ids, "\n"))
	return nil
}

var sessionOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Print a session's full event stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := session.Load(app.appDir, args[0])
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("session %s, started %s, %d event(s)\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), len(r.Events))
		for i, ev := range r.Events {
			line := fmt.Sprintf("  %d. [%s] %s", i+1, ev.Kind, ev.Request)
			if ev.Chosen != "" {
				line += fmt.Sprintf(" (via %s)", ev.Chosen)
			}
			if ev.Error != "" {
				line += fmt.Sprintf(" (error: %s)", ev.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var sessionInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show where session logs are stored and how many exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := session.List(app.appDir)
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("session directory: %s/logs/sessions\n", app.appDir)
		fmt.Printf("sessions on disk: %d\n", len(ids))
		return nil
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate event and per-model invocation counts across every session",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := session.ComputeStats(app.appDir)
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("sessions: %d\n", stats.TotalSessions)
		fmt.Printf("events: %d\n", stats.TotalEvents)

		models := make([]string, 0, len(stats.ByModel))
		for m := range stats.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			fmt.Printf("  %-18s %d\n", m, stats.ByModel[m])
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd, sessionOpenCmd, sessionInfoCmd, sessionStatsCmd)
}
