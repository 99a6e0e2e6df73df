package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"swapcore"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Mark the currently running image good on the simulated device",
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
		if err := sw.ConfirmImage(); err != nil {
			return err
		}
		fmt.Println("image confirmed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
}
