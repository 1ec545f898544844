package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/server"
	"githubtriage/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the HTTP API and the repositories file watcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	hub := server.NewHub()
	defer hub.Close()

	svc, err := service.NewService(cfg, service.WithNotifier(hub))
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Error during service shutdown", zap.Error(err))
		}
	}()

	return svc.Start(server.New(svc.Sync(), svc.Database(), hub))
}
