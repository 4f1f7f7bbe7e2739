package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appLog "calfeed/internal/log"
	"calfeed/internal/publish"
	"calfeed/internal/store"
	"calfeed/internal/web"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (and the scheduled publisher, if configured)",
	Long: `Start the HTTP server.

Routes:
  GET    /calendar/{owner}[.ics]   compiled iCalendar feed
  PUT    /api/events/{owner}       replace the owner's raw event documents
  DELETE /api/events/{owner}       drop the owner's raw event documents
  GET    /health                   liveness
  GET    /metrics                  Prometheus metrics

When publish.cron and publish.dir are set, calendars are also written to
<publish.dir>/<owner>.ics on that schedule.

Examples:
  calfeed serve --config ./calfeed.yaml
  calfeed serve --listen 0.0.0.0:8080 --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServer(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// CLI --listen overrides config file listen if provided.
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"database", cfg.Database,
		"publish_enabled", cfg.Publish.Enabled(),
		"basic_auth", cfg.BasicAuth != nil,
	)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if parent == nil {
		parent = context.Background()
	}
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compiler := newCompiler(cfg)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return web.StartServer(gctx, web.NewServer(cfg, st, compiler))
	})
	if cfg.Publish.Enabled() {
		p := publish.New(cfg.Publish, st, compiler, cfg.Location())
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	err = g.Wait()
	appLog.Info("calfeed exiting")
	return err
}
