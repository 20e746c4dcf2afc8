package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subvert/internal/persistence"
)

type historyReader interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRun(ctx context.Context, id string) (persistence.Run, bool, error)
	ListOutcomes(ctx context.Context, runID string) ([]persistence.Outcome, error)
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		runID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past walks, or the per-scene outcomes of one walk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			store, err := persistence.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				return printRunDetails(cmd.Context(), cmd.OutOrStdout(), store, runID)
			}
			return printRuns(cmd.Context(), cmd.OutOrStdout(), store, limit)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Show outcomes of the run with this id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")

	return cmd
}

func printRuns(ctx context.Context, w io.Writer, history historyReader, limit int) error {
	runs, err := history.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No walks recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Trigger,
			string(run.Status),
			humanize.Time(run.StartedAt),
			runDuration(run),
			fmt.Sprintf("%s/%s", humanize.Comma(int64(run.Visited)), humanize.Comma(int64(run.Total))),
			strconv.Itoa(run.Extracted),
			strconv.Itoa(run.AlreadyPresent),
			strconv.Itoa(run.Tagged),
			strconv.Itoa(run.Skipped),
			strconv.Itoa(run.Failed),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Run", "Trigger", "Status", "Started", "Duration", "Visited", "Extracted", "Present", "Tagged", "Skipped", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func printRunDetails(ctx context.Context, w io.Writer, history historyReader, runID string) error {
	run, ok, err := history.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no run with id " + runID)
	}
	outcomes, err := history.ListOutcomes(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run %s (%s, %s) started %s, took %s\n",
		run.ID, run.Trigger, run.Status, run.StartedAt.Local().Format(time.DateTime), runDuration(run))
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}

	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		tagged := ""
		if o.Tagged {
			tagged = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(o.Seq),
			o.SceneID,
			o.Status,
			strconv.Itoa(o.Tracks),
			strconv.Itoa(o.Extracted),
			strconv.Itoa(o.AlreadyPresent),
			tagged,
			strings.Join(o.Languages, ","),
			o.MediaPath,
			o.Error,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Scene", "Status", "Tracks", "Extracted", "Present", "Tagged", "Languages", "File", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	return nil
}

func runDuration(run persistence.Run) string {
	if run.FinishedAt.IsZero() {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}
