package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"localmind/internal/integrity"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the application directory, configured model directory, and backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		backendDesc := "llamafile (" + llamafile + ")"
		if httpBackend != "" {
			backendDesc = "http (" + httpBackend + ")"
		}
		fmt.Printf("application directory: %s\n", app.appDir)
		fmt.Printf("workspace: %s\n", app.workDir)
		fmt.Printf("model directory: %s\n", app.modelDir())
		fmt.Printf("backend: %s\n", backendDesc)
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Report the template/fix cache's footprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("cache database: %s\n", filepath.Join(app.appDir, "cache.db"))
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect known models",
}

var modelsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show every known model's canonical name, tier, and integrity status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rows []string
		for _, m := range app.reg.All() {
			verdict, _ := integrity.Verify(m.Canonical, filepath.Join(app.modelDir(), m.File), m.ExpectedSizeMB)
			rows = append(rows, fmt.Sprintf("%-18s tier %d  %s  %s", m.Canonical, m.Tier, verdict.Status, verdict.Message()))
		}
		sort.Strings(rows)
		fmt.Println(strings.Join(rows, "\n"))
		return nil
	},
}

var mainmenuCmd = &cobra.Command{
	Use:   "mainmenu",
	Short: "List every top-level command this core reacts to",
	RunE: func(cmd *cobra.Command, args []string) error {
		var names []string
		for _, c := range cmd.Root().Commands() {
			names = append(names, c.Name())
		}
		sort.Strings(names)
		fmt.Println(strings.Join(names, "\n"))
		return nil
	},
}

var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Program-level introspection",
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "One-paragraph summary of what this program does",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("localmind routes a request across locally installed models, selecting one " +
			"under integrity, enablement, locking, and tier-priority constraints, executes a " +
			"multi-step plan, repairs it on failure, and records an auditable trace of every " +
			"file, model call, and consensus update.")
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsInfoCmd)
	programCmd.AddCommand(summaryCmd)
}
