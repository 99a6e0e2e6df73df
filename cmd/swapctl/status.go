package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"swapcore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Scan a fresh simulated device's trailer and report its phase",
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
		sw, err := swapcore.Init(driver, [2]uint32{0, 0}, 0, swapConfig(cfg))
		if err != nil {
			return err
		}
		phase, err := sw.Phase()
		if err != nil {
			return err
		}
		fmt.Println("phase:", phase)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
