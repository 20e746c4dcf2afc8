package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/httpapi"
	"github.com/MimeLyc/subvert/internal/service"
	"github.com/MimeLyc/subvert/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type walkScheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		cronExpr string
		addr     string
		now      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run walks on a cron schedule and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cron") {
				cfg.Schedule.CronExpr = cronExpr
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			closeLog, err := setupLogging(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcOpts := []service.Option{service.WithInstanceLock(cfg.LockPath())}
			var apiOpts []httpapi.Option
			if store := openStore(cfg); store != nil {
				defer store.Close()
				svcOpts = append(svcOpts, service.WithRecorder(store))
				apiOpts = append(apiOpts, httpapi.WithHistory(store))
			}

			svc := service.NewFromConfig(*cfg, svcOpts...)
			engine := cron.New()
			scheduler := service.NewScheduler(svc, engine, cfg.Schedule.CronExpr)
			apiOpts = append(apiOpts, httpapi.WithRunContext(runCtx))

			var srv httpServer
			if cfg.HTTP.Addr != "" {
				srv = httpapi.NewServer(svc, scheduler, apiOpts...)
			}
			if now {
				scheduler.TriggerAsync(runCtx, "startup")
			}
			return runWithComponents(runCtx, cfg, scheduler, engine, srv)
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression for walks (CRON_EXPR)")
	cmd.Flags().StringVar(&addr, "addr", "", "Status API listen address, empty disables it (HTTP_ADDR)")
	cmd.Flags().BoolVar(&now, "now", false, "Start a walk immediately")

	return cmd
}

// runWithComponents schedules walks, serves HTTP and blocks until ctx is
// cancelled or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, scheduler walkScheduler, engine cronEngine, srv httpServer) error {
	if err := scheduler.Schedule(ctx); err != nil {
		return err
	}
	engine.Start()
	defer func() {
		// wait for a cron-started walk to notice cancellation
		select {
		case <-engine.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Timed out waiting for the running walk to stop")
		}
	}()

	if srv == nil {
		<-ctx.Done()
		log.Info("Shutting down")
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Status API listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
