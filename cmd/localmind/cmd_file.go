package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func resolveInWorkspace(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(app.workDir, p)
}

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dst>",
	Short: "Copy a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := resolveInWorkspace(args[0]), resolveInWorkspace(args[1])
		in, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("! %v", err)
		}
		out, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("copied %s -> %s\n", args[0], args[1])
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <src> <dst>",
	Short: "Move (rename) a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := resolveInWorkspace(args[0]), resolveInWorkspace(args[1])
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("! %v", err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("moved %s -> %s\n", args[0], args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <target>",
	Short: "Delete a file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := resolveInWorkspace(args[0])
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Print a file's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(resolveInWorkspace(args[0]))
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List a directory's entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := app.workDir
		if len(args) == 1 {
			target = resolveInWorkspace(args[0])
		}
		entries, err := os.ReadDir(target)
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println(strings.Join(names, "\n"))
		return nil
	},
}

var findCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "Find files matching a glob pattern under the workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var matches []string
		err := filepath.WalkDir(app.workDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ok, _ := filepath.Match(args[0], d.Name()); ok {
				rel, relErr := filepath.Rel(app.workDir, path)
				if relErr != nil {
					rel = path
				}
				matches = append(matches, rel)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("! %v", err)
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}
		fmt.Println(strings.Join(matches, "\n"))
		return nil
	},
}

var openWith string

var openCmd = &cobra.Command{
	Use:   "open <target> [with <app>]",
	Short: "Open a file or directory with the OS default handler, or an explicit app",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := resolveInWorkspace(args[0])
		launcher := openWith
		if len(args) == 3 && args[1] == "with" {
			launcher = args[2]
		}
		if launcher == "" {
			switch runtime.GOOS {
			case "darwin":
				launcher = "open"
			case "windows":
				launcher = "start"
			default:
				launcher = "xdg-open"
			}
		}
		c := exec.CommandContext(cmd.Context(), launcher, target)
		if err := c.Start(); err != nil {
			return fmt.Errorf("! %v", err)
		}
		fmt.Printf("opened %s with %s\n", args[0], launcher)
		return nil
	},
}

func init() {
	openCmd.Flags().StringVar(&openWith, "with", "", "application to open the target with")
}
