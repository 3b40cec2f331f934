package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zerofisher/pcapcatalog/internal/api"
	"github.com/Zerofisher/pcapcatalog/internal/scheduler"
	"github.com/Zerofisher/pcapcatalog/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled scans",
	Long: `Serve the catalog over HTTP. A scan starts at boot when the index is empty
and then every scan.interval; with watch.enabled new captures are indexed as
they arrive.`,
	Example: `  pcapcatalog serve
  pcapcatalog serve -c /etc/pcapcatalog.yaml`,
	Args:    cobra.NoArgs,
	GroupID: "service",
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	g, ctx := errgroup.WithContext(cmd.Context())

	srv := api.NewServer(ctx, a)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	sched := scheduler.New(a.Scanner, a.Store, scheduler.Config{
		Interval:    cfg.Scan.Interval,
		InitialScan: cfg.Scan.InitialScan,
		Options:     a.ScanOptions("", nil),
	}, a.Logger)
	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})

	if cfg.Watch.Enabled {
		w := watcher.New(a.Scanner, watcher.Config{
			Root:       cfg.PcapDirectory,
			Debounce:   cfg.Watch.Debounce,
			Extensions: cfg.Scan.Extensions,
			Exclude:    cfg.Scan.Exclude,
		}, a.Logger)
		g.Go(func() error {
			if err := w.Start(ctx); err != nil {
				// The API keeps serving without the watcher.
				a.Logger.Error("filesystem watcher disabled", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
