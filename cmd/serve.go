package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/server"
	"github.com/sells-group/lead-import/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the import API, webhook workers and queue delivery loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		blobs, err := initBlob()
		if err != nil {
			return err
		}

		q, err := queue.NewRedis(ctx, cfg.Queue.Redis)
		if err != nil {
			return err
		}
		defer q.Close()

		// A message that used up its delivery budget fails its job so it
		// does not sit in queued/parsing forever.
		q.OnExhausted = func(ctx context.Context, m queue.Message) {
			if err := st.FailJob(ctx, m.JobID, "delivery attempts exhausted"); err != nil {
				zap.L().Error("could not fail job after exhausted deliveries",
					zap.String("job_id", m.JobID), zap.Error(err))
			}
		}

		parse := worker.NewParseWorker(st, blobs, q, cfg.Import)
		commit := worker.NewCommitWorker(st, q, cfg.Import)

		serverCfg := cfg.Server
		if servePort != 0 {
			serverCfg.Port = servePort
		}
		srv := server.New(serverCfg, st, blobs, q, parse, commit)

		deliverer := queue.NewHTTPDeliverer(cfg.Queue.WebhookBaseURL, serverCfg.WebhookSecret)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(gctx) })
		g.Go(func() error { return q.Run(gctx, deliverer) })
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
