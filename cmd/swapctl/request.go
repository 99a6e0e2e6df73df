package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"swapcore"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Mark the simulated device's slot-1 trailer as requesting an upgrade",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadDeviceConfig(cfgFile)
		if err != nil {
			return err
		}
		driver, closeDriver, err := buildDriver(cfg)
		if err != nil {
			return err
		}
		defer closeDriver()
		if err := swapcore.RequestUpgrade(driver, swapConfig(cfg)); err != nil {
			return err
		}
		fmt.Println("upgrade requested")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
}
