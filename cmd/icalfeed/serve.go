package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"icalfeed/internal/config"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/metrics"
	"icalfeed/internal/refresh"
	"icalfeed/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh configured feeds on a schedule and serve the HTTP API",
		Long: `Load the YAML config (a default one is written on first run), refresh every
configured source on the cron schedule and serve:

  /health, /api/calendars, /api/calendars/{id}, /api/events,
  /api/ics/{id}, /api/refresh and /metrics (when enabled).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			if listen != "" {
				conf.Listen = listen
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			appLog.Info("effective config",
				"listen", conf.Listen,
				"timezone", conf.Location().String(),
				"refresh", conf.RefreshCron,
				"cache_dir", conf.CacheDir,
				"chunk_size", conf.ChunkSize,
				"metrics", conf.Metrics,
				"sources", len(conf.Sources),
			)

			var m *metrics.Metrics
			if conf.Metrics {
				m = metrics.New()
			}
			r := refresh.New(conf, refresh.WithMetrics(m))

			if once {
				return r.RefreshAll(cmd.Context())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				err := r.Start(ctx)
				if err != nil {
					stop()
				}
				errCh <- err
			}()

			srv := web.NewServer(conf, r, m)
			if err := web.ListenAndServe(ctx, conf.Listen, srv.Handler()); err != nil {
				stop()
				<-errCh
				return err
			}
			if err := <-errCh; err != nil {
				return err
			}
			appLog.Info("icalfeed exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&once, "once", false, "Refresh all sources once and exit")
	return cmd
}
