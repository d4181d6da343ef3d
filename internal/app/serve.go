package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"insightpipe/internal/httpapi"
	"insightpipe/internal/sweep"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion API and the retry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := buildServices(ctx, false)
		if err != nil {
			return err
		}
		defer svc.close()

		sweeper := sweep.New(svc.store, svc.sched, svc.log.Entry)
		if err := sweeper.Start(ctx, svc.cfg.RetrySchedule, svc.cfg.Location); err != nil {
			return err
		}

		handler := httpapi.NewHandler(svc.store, svc.store, svc.sched, svc.log)
		srv := &http.Server{
			Addr:              svc.cfg.ListenAddr,
			Handler:           httpapi.NewRouter(handler),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			svc.log.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			svc.log.Info("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			svc.log.WithError(err).Warn("http shutdown incomplete")
		}
		svc.sched.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
