package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/config"
	"github.com/GoCodeAlone/taskloop/internal/backend"
	"github.com/GoCodeAlone/taskloop/task"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Run the task loop for an objective",
	Long: `Run decomposes the objective, executes every task and keeps planning until
the model reports that the objective is complete. Without an argument the
objective is read from the terminal.`,
	RunE: runRun,
}

var (
	runPolicy        string
	runMaxIterations int
	runProvider      string
	runModel         string
	runNoStore       bool
)

func init() {
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "step policy: cursor or legacy")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", -1, "maximum planning cycles, 0 for unbounded")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider type: mock, anthropic, openai, openrouter")
	runCmd.Flags().StringVar(&runModel, "model", "", "model name")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not persist the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if runPolicy != "" {
		cfg.Orchestrator.Policy = runPolicy
	}
	if runMaxIterations >= 0 {
		cfg.Orchestrator.MaxIterations = runMaxIterations
	}
	if runProvider != "" {
		cfg.Provider.Type = runProvider
	}
	if runModel != "" {
		cfg.Provider.Model = runModel
	}

	objective := strings.TrimSpace(strings.Join(args, " "))
	if objective == "" {
		objective, err = readLine(cmd.InOrStdin(), cmd.OutOrStdout(), "Objective: ")
		if err != nil {
			return err
		}
		if objective == "" {
			return errors.New("objective is required")
		}
	}

	opts := backend.Options{Bus: comms.NewInMemoryBus(), Logger: logger}
	if !runNoStore {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		opts.Store = store
	}

	orch, err := backend.New(cfg, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	unsubscribe := opts.Bus.Subscribe("", func(_ context.Context, ev *comms.Event) error {
		printProgress(out, ev)
		return nil
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := orch.Run(ctx, objective)
	if r != nil && !runNoStore {
		fmt.Fprintf(out, "%s\n", color.New(color.Faint).Sprintf("run %s", r.ID))
	}
	return err
}

// readLine prints label and reads one trimmed line from in.
func readLine(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, color.CyanString(label))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// printProgress writes one line per completed task and the final response.
func printProgress(w io.Writer, ev *comms.Event) {
	switch ev.Type {
	case comms.TypeTaskCompleted:
		fmt.Fprintf(w, "%s %s\n", color.GreenString("[%d] %s:", ev.Index+1, ev.Task), ev.Result)
	case comms.TypeRunTerminated:
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgCyan, color.Bold).Sprint("Final response:"), ev.Result)
	case comms.TypeRunFailed:
		fmt.Fprintf(w, "%s %s\n", color.RedString("Run failed:"), ev.Error)
	}
}

// openStore opens the SQLite run store inside the data directory.
func openStore(cfg *config.Config) (*task.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return task.NewSQLiteStore(cfg.DBPath())
}
