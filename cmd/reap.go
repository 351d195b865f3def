package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/jobs"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/fatih/color"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func reapCmd() *cobra.Command {
	var every time.Duration

	command := &cobra.Command{
		Use:     "reap",
		Short:   "clean up presence left behind by dead redis connections",
		Example: "panelcraft reap\npanelcraft reap --every 30s",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()
			opts, err := redis.ParseURL(cfg.RemoteURL)
			if err != nil {
				logrus.Errorf("REMOTE_URL must be a redis url: %v", err)
				return
			}
			client := redis.NewClient(opts)
			defer client.Close()

			if every <= 0 {
				reaped, err := remote.NewReaper(client, remote.DefaultRedisPrefix, "").Reap(context.Background())
				if err != nil {
					logrus.Error(err)
					return
				}
				color.Green("reaped %d dead connections\n", reaped)
				return
			}

			reaper := remote.NewReaper(client, remote.DefaultRedisPrefix, fmt.Sprintf("@every %s", every))
			executor := jobs.NewTaskExecutor(nil, []jobs.CronJob{reaper})
			if err := executor.Run(); err != nil {
				logrus.Error(err)
				return
			}
			defer executor.Stop()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
			<-sigs
			fmt.Println()
		},
	}

	command.Flags().DurationVar(&every, "every", 0, "keep reaping at this interval")

	return command
}
