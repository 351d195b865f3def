package cmd

import (
	"context"

	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port string

	command := &cobra.Command{
		Use:     "serve",
		Short:   "run the websocket relay other participants connect to",
		Example: "panelcraft serve -p 4030",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.LoadConfig()
			if port != "" {
				cfg.RelayPort = port
			}

			if err := server.NewServer(cfg).Start(context.Background()); err != nil {
				logrus.Fatalf("error starting server: %v", err)
			}
		},
	}

	command.Flags().StringVarP(&port, "port", "p", "", "relay port (defaults to RELAY_PORT)")

	return command
}
