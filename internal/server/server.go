package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/emrgen/panelcraft/internal/compress"
	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/jobs"
	"github.com/emrgen/panelcraft/internal/remote"
	"github.com/emrgen/panelcraft/internal/remote/relay"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	archiveSchedule = "@every 10s"
	statsSchedule   = "@every 1m"
)

// Server is a relay process: the websocket relay plus the jobs that keep
// its rooms archived.
type Server struct {
	cfg *config.Config
	hub *remote.Hub
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
		hub: remote.NewHub(),
	}
}

// Start runs the relay until ctx is done or the process is interrupted.
func (s *Server) Start(ctx context.Context) error {
	codec, err := compress.New(s.cfg.Compression)
	if err != nil {
		return err
	}

	kv := store.NewGormKV(config.GetDb(s.cfg), codec)
	if err := kv.Migrate(); err != nil {
		return err
	}

	archiver := jobs.NewRoomArchiver(s.hub, kv, archiveSchedule)
	restored, err := archiver.Restore(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("restored %d archived rooms", restored)

	executor := jobs.NewTaskExecutor(nil, []jobs.CronJob{
		archiver,
		jobs.NewStatsTask(s.hub, statsSchedule),
	})
	if err := executor.Run(); err != nil {
		return err
	}
	defer executor.Stop()

	port := ":" + s.cfg.RelayPort
	rl, err := net.Listen("tcp", port)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler: relay.NewServer(s.hub).Router(),
	}

	// make sure to wait for the server to stop before exiting
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Infof("starting relay on: ws://localhost%s%s", port, relay.StorePath)
		if err := httpServer.Serve(rl); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("error starting relay: %v", err)
		}
		logrus.Infof("relay stopped")
	}()

	logrus.Infof("Press Ctrl+C to stop the server")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)
	select {
	case <-sigs:
		// clean Ctrl+C output
		fmt.Println()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error stopping relay: %v", err)
	}
	wg.Wait()

	// keep whatever changed since the last scheduled run
	if _, err := archiver.Archive(shutdownCtx); err != nil {
		logrus.Errorf("final archive failed: %v", err)
	}

	return nil
}
