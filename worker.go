package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"smlgpt/internal/realtime"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the file analysis worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var publisher realtime.Publisher = realtime.Discard{}
		if a.redis != nil {
			publisher = realtime.NewRedisPublisher(a.redis)
		} else {
			a.log.Warn("no redis configured, realtime events are dropped")
		}
		if a.queueRDB == nil {
			a.log.Warn("worker has no shared queue and will only see jobs enqueued in this process")
		}

		d := a.dispatcher(publisher)
		d.Start(ctx)
		a.log.Infow("worker started", "concurrency", a.cfg.Queue.Concurrency)
		<-ctx.Done()
		a.log.Info("stopping worker")
		d.Stop()
		return nil
	},
}
