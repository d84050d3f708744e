// Package main implements the localmind CLI, the terminal entry point for
// the routing, selection, and execution core. Command implementations are
// split across cmd_*.go files by verb group, one file per command family.
//
// File index:
//   - main.go         - entry point, rootCmd, global flags, wiring
//   - cmd_model.go    - llm list|enable|disable, install, uninstall
//   - cmd_file.go     - copy|move|delete|read|list|find|open
//   - cmd_exec.go     - run|fix|daemon watch|autofix
//   - cmd_session.go  - session list|open|info|stats
//   - cmd_info.go     - help|info|memory|models info|mainmenu|program summary
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"localmind/internal/cache"
	"localmind/internal/config"
	"localmind/internal/enablement"
	"localmind/internal/exec"
	"localmind/internal/logx"
	"localmind/internal/modelhub"
	"localmind/internal/modellock"
	"localmind/internal/registry"
	"localmind/internal/repair"
	"localmind/internal/router"
)

var (
	verbose     bool
	workspace   string
	httpBackend string
	llamafile   string
	opTimeout   time.Duration

	logger *zap.Logger

	app *application
)

// application bundles every governance component and the Router, built
// once in PersistentPreRunE and shared by every subcommand.
type application struct {
	appDir      string
	workDir     string
	modelsDir   string
	reg         *registry.Registry
	enablement  *enablement.Store
	lockMgr     *modellock.Manager
	cacheDB     *cache.Cache
	hub         *modelhub.Hub
	rtr         *router.Router
	settings    config.Settings
}

func (a *application) modelDir() string { return a.modelsDir }

var rootCmd = &cobra.Command{
	Use:   "localmind",
	Short: "localmind - local-first model router and execution core",
	Long: `localmind routes natural-language and command-style requests across a
pool of locally installed language models, selecting, executing, and
repairing multi-step plans entirely on-device.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		app = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		if app != nil && app.cacheDB != nil {
			_ = app.cacheDB.Close()
		}
		logx.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// bootstrap wires the Registry, Integrity Verifier, Enablement Store, Lock
// Manager, Cache, model dispatch Hub, Step Executor, and Router together,
// rooted at the per-user application directory.
func bootstrap() (*application, error) {
	appDir, err := config.AppDir()
	if err != nil {
		return nil, err
	}
	if err := logx.Initialize(appDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging init failed: %v\n", err)
	}

	settings, err := config.Load(appDir)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load()
	if err != nil {
		return nil, fmt.Errorf("loading model registry: %w", err)
	}
	en, err := enablement.Open(appDir, reg)
	if err != nil {
		return nil, fmt.Errorf("opening enablement store: %w", err)
	}
	lockMgr, err := modellock.New(appDir)
	if err != nil {
		return nil, fmt.Errorf("opening model lock manager: %w", err)
	}
	c, err := cache.Open(filepath.Join(appDir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("opening template/fix cache: %w", err)
	}

	modelDir := settings.BackupModelsDir
	if modelDir == "" {
		modelDir = os.Getenv("LOCALMIND_MODELS_DIR")
	}
	if modelDir == "" {
		modelDir = filepath.Join(appDir, "models")
	}

	hub := &modelhub.Hub{
		Reg:             reg,
		Enablement:      en,
		LockMgr:         lockMgr,
		ModelDir:        modelDir,
		HTTPBaseURL:     httpBackend,
		LlamafileBinary: llamafile,
	}

	repairLoop := repair.New(c, hub, scriptRunner{}, nil, "")
	executor := &exec.Executor{
		Cache:   c,
		CodeGen: hub,
		Repair:  repairLoop,
		ExplicitNaming: func(path string) bool {
			return false
		},
	}

	candidates := router.NewRegistrySource(reg, en, lockMgr, modelDir)
	rtr, err := router.New(candidates, lockMgr, hub, executor)
	if err != nil {
		return nil, fmt.Errorf("constructing router: %w", err)
	}

	workDir := workspace
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	return &application{
		appDir:     appDir,
		workDir:    workDir,
		modelsDir:  modelDir,
		reg:        reg,
		enablement: en,
		lockMgr:    lockMgr,
		cacheDB:    c,
		hub:        hub,
		rtr:        rtr,
		settings:   settings,
	}, nil
}

// scriptRunner adapts os/exec child-process invocation to repair.ScriptRunner,
// reusing the same extension-to-interpreter convention as the Step Executor.
type scriptRunner struct{}

var runnerInterpreters = map[string]string{
	".py": "python3",
	".sh": "sh",
	".js": "node",
	".rb": "ruby",
}

func (scriptRunner) Run(ctx context.Context, path string) (int, string, string, error) {
	interpreter, ok := runnerInterpreters[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return -1, "", "", fmt.Errorf("scriptRunner: no interpreter known for %s", path)
	}

	cmd := osexec.CommandContext(ctx, interpreter, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	exitCode := 0
	var exitErr *osexec.ExitError
	if err != nil {
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, stdout.String(), stderr.String(), err
		}
	}
	return exitCode, stdout.String(), stderr.String(), nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&httpBackend, "http-backend", "", "Ollama-style HTTP backend base URL (default: llamafile child process)")
	rootCmd.PersistentFlags().StringVar(&llamafile, "llamafile-binary", "llamafile", "path to the llamafile runtime binary")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 5*time.Minute, "operation timeout")

	llmCmd.AddCommand(llmListCmd, llmEnableCmd, llmDisableCmd)
	rootCmd.AddCommand(llmCmd, installCmd, uninstallCmd)
	rootCmd.AddCommand(copyCmd, moveCmd, deleteCmd, readCmd, listCmd, findCmd, openCmd)
	rootCmd.AddCommand(runCmd, fixCmd, daemonCmd, autofixCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(infoCmd, memoryCmd, modelsCmd, mainmenuCmd, programCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
