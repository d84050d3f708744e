package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"localmind/internal/integrity"
	"localmind/internal/registry"
)

// modelRef aliases registry.Model for readability in this file's signatures.
type modelRef = registry.Model

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// llmCmd is the parent for every model-management verb.
var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Manage the local model pool",
}

var llmListCmd = &cobra.Command{
	Use:   "list [all]",
	Short: "List models (enabled by default; pass 'all' to include disabled)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		includeAll := len(args) == 1 && args[0] == "all"

		var rows []string
		for _, m := range app.reg.All() {
			enabled := app.enablement.IsEnabled(m.Canonical)
			if !includeAll && !enabled {
				continue
			}
			verdict, _ := integrity.Verify(m.Canonical, filepath.Join(app.modelDir(), m.File), m.ExpectedSizeMB)
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			rows = append(rows, fmt.Sprintf("%-18s tier %d  %-8s  %s", m.Canonical, m.Tier, state, verdict.Status))
		}
		if len(rows) == 0 {
			fmt.Println("no models match")
			return nil
		}
		sort.Strings(rows)
		fmt.Println(strings.Join(rows, "\n"))
		return nil
	},
}

var llmEnableCmd = &cobra.Command{
	Use:   "enable <name>|all|tier <n>",
	Short: "Enable one model, every model, or every model at a tier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnablement(args, true)
	},
}

var llmDisableCmd = &cobra.Command{
	Use:   "disable <name>|all|tier <n>",
	Short: "Disable one model, every model, or every model at a tier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnablement(args, false)
	},
}

func setEnablement(args []string, value bool) error {
	switch {
	case args[0] == "all":
		if value {
			return app.enablement.EnableAll()
		}
		return app.enablement.DisableAll()
	case args[0] == "tier" && len(args) == 2:
		tier, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("! invalid tier %q", args[1])
		}
		return app.enablement.SetTier(tier, value)
	default:
		if value {
			return app.enablement.Enable(args[0])
		}
		return app.enablement.Disable(args[0])
	}
}

// installCmd and uninstallCmd delegate the actual file transfer to an
// external downloader; here they only resolve the canonical name, check
// current integrity, and manage the uninstall-failed sentinel around removal.
var installCmd = &cobra.Command{
	Use:   "install <name>|core models|all models|tier <n>",
	Short: "Resolve a model name and report what an external downloader must fetch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := resolveInstallTargets(args)
		if err != nil {
			return err
		}
		var lines []string
		for _, m := range targets {
			path := filepath.Join(app.modelDir(), m.File)
			verdict, _ := integrity.Verify(m.Canonical, path, m.ExpectedSizeMB)
			if verdict.Status == integrity.StatusOK {
				lines = append(lines, fmt.Sprintf("%s already installed at %s", m.Canonical, path))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s needs %s (~%d MB) at %s", m.Canonical, m.File, m.ExpectedSizeMB, path))
		}
		fmt.Println(strings.Join(lines, "\n"))
		return nil
	},
}

func resolveInstallTargets(args []string) ([]modelRef, error) {
	all := app.reg.All()
	switch {
	case args[0] == "core" && len(args) == 2 && args[1] == "models":
		var out []modelRef
		for _, m := range all {
			if m.Tier <= 1 {
				out = append(out, m)
			}
		}
		return out, nil
	case args[0] == "all" && len(args) == 2 && args[1] == "models":
		return all, nil
	case args[0] == "tier" && len(args) == 2:
		tier, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("! invalid tier %q", args[1])
		}
		var out []modelRef
		for _, m := range all {
			if m.Tier == tier {
				out = append(out, m)
			}
		}
		return out, nil
	default:
		m, ok := app.reg.CanonicalizeOne(args[0])
		if !ok {
			candidates := app.reg.Canonicalize(args[0])
			if len(candidates) > 1 {
				names := make([]string, len(candidates))
				for i, c := range candidates {
					names[i] = c.Canonical
				}
				return nil, fmt.Errorf("! %q is ambiguous: %s", args[0], strings.Join(names, ", "))
			}
			return nil, fmt.Errorf("! unknown model %q", args[0])
		}
		return []modelRef{m}, nil
	}
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <name>",
	Short: "Remove an installed model's file, with crash-safe sentinel protection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, ok := app.reg.CanonicalizeOne(args[0])
		if !ok {
			return fmt.Errorf("! unknown model %q", args[0])
		}
		path := filepath.Join(app.modelDir(), m.File)

		if err := integrity.BeginUninstall(app.appDir, m.Canonical); err != nil {
			return err
		}
		if err := removeIfExists(path); err != nil {
			return fmt.Errorf("! failed removing %s: %w (run uninstall again to retry)", path, err)
		}
		if err := integrity.CompleteUninstall(app.appDir); err != nil {
			return err
		}
		fmt.Printf("uninstalled %s\n", m.Canonical)
		return nil
	},
}
