package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	onvif "github.com/SridarDhandapani/onvif-server"
)

var probeOptions onvif.ProbeOptions

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a WS-Discovery probe and list the devices that answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		matches, err := onvif.Probe(cmd.Context(), &probeOptions)
		if err != nil {
			return err
		}

		if len(matches) == 0 {
			fmt.Println("No ONVIF devices answered.")
			return nil
		}

		fmt.Printf("Found %d device(s)\n\n", len(matches))
		for i, match := range matches {
			fmt.Printf("Device #%d\n", i+1)
			fmt.Println(strings.Repeat("=", 60))
			fmt.Printf("Endpoint: %s\n", match.Endpoint)
			fmt.Printf("Address:  %s\n", strings.Join(match.XAddrs, " "))
			if match.Name != "" {
				fmt.Printf("Name:     %s\n", match.Name)
			}
			if match.Hardware != "" {
				fmt.Printf("Hardware: %s\n", match.Hardware)
			}
			fmt.Printf("Sequence: %d (instance %d)\n\n", match.MessageNumber, match.InstanceID)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().DurationVar(&probeOptions.Timeout, "timeout", 3*time.Second, "How long to wait for answers")
	probeCmd.Flags().StringVar(&probeOptions.Addr, "addr", onvif.DefaultMulticastAddr, "Multicast group or responder address")
	probeCmd.Flags().StringVar(&probeOptions.Types, "types", "dn:NetworkVideoTransmitter", "Types filter, empty for all")
}
