package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var scanTimeout int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List reachable devices for the configured transport",
	Long: `List candidate peers: bonded Bluetooth devices for the bluez
transport, advertising BLE peripherals for ble, local ports for serial.
Useful to verify the headset is paired before starting the daemon.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	adapter, err := newAdapter(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(scanTimeout)*time.Second)
	defer cancel()

	peers, err := adapter.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(peers) == 0 {
		fmt.Println("no devices found")
		return nil
	}
	for _, p := range peers {
		marker := " "
		if p.Name == cfg.Device.Name {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, p.String())
	}
	return nil
}
