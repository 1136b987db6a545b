package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP server and the purge scheduler until ctx is cancelled,
// then shuts the server down gracefully.
func Serve(ctx context.Context, runtime *Runtime) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", runtime.Config.Port),
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		runtime.Logger.Info("server_start", map[string]any{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return runtime.Scheduler.Run(ctx)
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		runtime.Logger.Info("server_shutdown", nil)
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
