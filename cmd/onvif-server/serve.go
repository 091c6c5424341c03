package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	onvif "github.com/SridarDhandapani/onvif-server"
	"github.com/SridarDhandapani/onvif-server/config"
	"github.com/SridarDhandapani/onvif-server/relay"
)

var (
	cfgFile    string
	directURLs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the virtual devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Log.Level, cfg.Log.Format)
		logger.Info().Str("version", version).Int("devices", len(cfg.Devices)).Msg("Starting onvif-server")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orchestrator := &onvif.Orchestrator{
			Configs:    cfg.DeviceConfigs(),
			DirectURLs: cfg.DirectURLs || directURLs,
			StartDelay: cfg.StartDelay,
			Discovery: onvif.DiscoveryOptions{
				ListenAddr:    cfg.Discovery.Listen,
				MulticastAddr: cfg.Discovery.Multicast,
			},
			Relay:  relay.New(logger),
			Logger: logger,
		}

		if err := orchestrator.Run(ctx); err != nil {
			return err
		}
		logger.Info().Msg("Stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&cfgFile, "config", "c", "config.yaml", "Configuration file")
	serveCmd.Flags().BoolVar(&directURLs, "direct-urls", false, "Hand out stream URLs of the real camera instead of relaying")
}
