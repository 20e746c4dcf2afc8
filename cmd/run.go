package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/service"
	"github.com/MimeLyc/subvert/pkg/log"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		batch     int
		delay     time.Duration
		pathRegex string
		marker    string
		noBar     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Walk the catalog once and extract subtitles",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			if cmd.Flags().Changed("batch") {
				opts = append(opts, config.WithBatchSize(batch))
			}
			if cmd.Flags().Changed("delay") {
				opts = append(opts, config.WithPageDelay(delay))
			}
			if cmd.Flags().Changed("path-regex") {
				opts = append(opts, config.WithPathRegex(pathRegex))
			}
			if cmd.Flags().Changed("marker") {
				opts = append(opts, config.WithMarkerTag(marker))
			}

			cfg, err := ctx.loadConfig(opts...)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcOpts := []service.Option{service.WithInstanceLock(cfg.LockPath())}
			if store := openStore(cfg); store != nil {
				defer store.Close()
				svcOpts = append(svcOpts, service.WithRecorder(store))
			}

			var bar *barProgress
			if !noBar && log.ParseFormat(cfg.Log.Format) == log.FormatPlain && isTerminal(os.Stderr) {
				bar = newBarProgress(os.Stderr)
				svcOpts = append(svcOpts, service.WithProgress(bar))
			}

			summary, runErr := service.NewFromConfig(*cfg, svcOpts...).Run(runCtx, "cli")
			if bar != nil {
				bar.Finish()
			}
			if summary.RunID != "" {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&batch, "batch", 0, "Scenes per catalog page (BATCH_QUANTITY)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between catalog pages (PAGE_DELAY)")
	cmd.Flags().StringVar(&pathRegex, "path-regex", "", "Only visit scenes whose path matches (PATH_REGEX)")
	cmd.Flags().StringVar(&marker, "marker", "", "Marker tag id, 0 disables tagging (SUBTITLE_TAG_ID)")
	cmd.Flags().BoolVar(&noBar, "no-progress", false, "Disable the terminal progress bar")

	return cmd
}

func printSummary(w io.Writer, s service.Summary) {
	rows := [][]string{
		{"Run", s.RunID},
		{"Duration", s.Duration().Round(time.Millisecond).String()},
		{"Visited", fmt.Sprintf("%s / %s", humanize.Comma(int64(s.Visited)), humanize.Comma(int64(s.Total)))},
		{"Extracted", humanize.Comma(int64(s.Extracted))},
		{"Already present", humanize.Comma(int64(s.AlreadyPresent))},
		{"Tagged", humanize.Comma(int64(s.Tagged))},
		{"No subtitles", humanize.Comma(int64(s.NoSubtitles))},
		{"Skipped", humanize.Comma(int64(s.Skipped))},
		{"Failed", humanize.Comma(int64(s.Failed))},
	}
	if s.Error != "" {
		rows = append(rows, []string{"Error", s.Error})
	}
	fmt.Fprintln(w, renderTable([]string{"", "Walk"}, rows, []columnAlignment{alignLeft, alignRight}))
}
