package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/SridarDhandapani/onvif-server/config"
)

var (
	sampleDevices int
	sampleTarget  string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print a configuration skeleton",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Sample(sampleDevices, sampleTarget)
		if err != nil {
			return err
		}
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	sampleCmd.Flags().IntVarP(&sampleDevices, "devices", "n", 2, "Number of virtual devices")
	sampleCmd.Flags().StringVar(&sampleTarget, "target", "192.168.1.10", "Hostname of the real camera")
}
