package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"localmind/internal/classify"
	"localmind/internal/router"
	"localmind/internal/selector"
)

// watchDebounce matches the Step Executor's own timeout/debounce texture.
const watchDebounce = 250 * time.Millisecond

func runRequest(cmd *cobra.Command, text string, purpose selector.Purpose, language string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
	defer cancel()

	resp, err := app.rtr.Handle(ctx, router.Request{Text: text, Purpose: purpose, Language: language})
	if err != nil {
		summary := resp.Tracker
		if summary != nil {
			s := summary.Summarize()
			fmt.Printf("! %v (files affected: %d, models used: %d)\n", err, s.FilesAffected, s.ModelsUsed)
		} else {
			fmt.Printf("! %v\n", err)
		}
		return err
	}

	if resp.Kind == classify.KindCanned {
		fmt.Println(resp.Text)
		return nil
	}

	s := resp.Tracker.Summarize()
	fmt.Printf("done via %s: %d step(s), %d file(s) affected, %d model call(s)\n",
		resp.Chosen, len(resp.Checklist), s.FilesAffected, s.ModelsUsed)
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Plan and execute a script-creation or action request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := "run " + joinArgs(args)
		return runRequest(cmd, text, selector.PurposeComplex, languageFromPath(args[0]))
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix <script>",
	Short: "Run a script and repair it on failure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := "fix " + args[0]
		return runRequest(cmd, text, selector.PurposeComplex, languageFromPath(args[0]))
	},
}

var autofixCmd = &cobra.Command{
	Use:   "autofix <target>",
	Short: "Validate and repair a target without an explicit run step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := "fix " + args[0]
		return runRequest(cmd, text, selector.PurposeSimple, languageFromPath(args[0]))
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func languageFromPath(path string) string {
	switch filepath.Ext(path) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".sh":
		return "shell"
	case ".rb":
		return "ruby"
	case ".go":
		return "go"
	default:
		return ""
	}
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a watcher that re-invokes fix on every write to a script",
}

var daemonWatchCmd = &cobra.Command{
	Use:   "watch <script>",
	Short: "Watch a script and re-run fix on every write, debounced by 250ms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := resolveInWorkspace(args[0])

		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		defer w.Close()

		if err := w.Add(filepath.Dir(target)); err != nil {
			return fmt.Errorf("! %v", err)
		}

		fmt.Printf("watching %s (ctrl-c to stop)\n", args[0])
		var pending *time.Timer
		trigger := func() {
			fmt.Printf("change detected, re-running fix on %s\n", args[0])
			if err := runRequest(cmd, "fix "+args[0], selector.PurposeComplex, languageFromPath(args[0])); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}

		ctx := cmd.Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(watchDebounce, trigger)
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				fmt.Printf("! watch error: %v\n", err)
			}
		}
	},
}

func init() {
	daemonCmd.AddCommand(daemonWatchCmd)
}
