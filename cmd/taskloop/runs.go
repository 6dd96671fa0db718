package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/GoCodeAlone/taskloop/task"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	RunE:  runRuns,
}

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a stored run with its task list",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	runsStatus string
	runsLimit  int
)

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (terminated, failed, ...)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	filter := task.Filter{Limit: runsLimit}
	if runsStatus != "" {
		st := task.Status(runsStatus)
		filter.Status = &st
	}
	runs, err := store.ListRuns(filter)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	r, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	printRun(cmd.OutOrStdout(), r)
	return nil
}

// statusLabel renders a run status for humans, e.g. "Executing Step".
func statusLabel(s task.Status) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

func printRuns(w io.Writer, runs []*task.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTASKS\tCREATED\tOBJECTIVE")
	for _, r := range runs {
		n := 0
		if r.Tasks != nil {
			n = r.Tasks.Len()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			statusLabel(r.Status),
			n,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(r.Objective, 50),
		)
	}
	tw.Flush() //nolint:errcheck
}

func printRun(w io.Writer, r *task.Run) {
	fmt.Fprintf(w, "run:        %s\n", r.ID)
	fmt.Fprintf(w, "objective:  %s\n", r.Objective)
	fmt.Fprintf(w, "status:     %s\n", statusLabel(r.Status))
	fmt.Fprintf(w, "cursor:     %d\n", r.Cursor)
	fmt.Fprintf(w, "iterations: %d\n", r.Iterations)
	if r.Error != "" {
		fmt.Fprintf(w, "error:      %s\n", color.RedString(r.Error))
	}
	fmt.Fprintln(w)

	if r.Tasks != nil {
		for i, t := range r.Tasks.Tasks() {
			mark := color.YellowString("[ ]")
			if t.Done {
				mark = color.GreenString("[x]")
			}
			fmt.Fprintf(w, "%s %d. %s\n", mark, i+1, t.Name)
			if t.Result != "" {
				fmt.Fprintf(w, "      %s\n", t.Result)
			}
		}
	}
	if r.Final != "" {
		fmt.Fprintf(w, "\nFinal response: %s\n", r.Final)
	}
}
