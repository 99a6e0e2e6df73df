// Command swapctl is the operator-facing front end over the swap
// core: it drives a simulated device end to end (request, status,
// simulate, dump) the way the teacher's cli/main.go inspects sidb's
// on-disk layout, and the way apache-mynewt-newtmgr's image commands
// front the same slot/image-state concepts over a real device.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "swapctl",
	Short: "Inspect and drive the image-swap engine against a simulated device",
	Long: `swapctl is a development and CI tool for the image-swap bootloader
core. It never touches real flash: every command runs against a
simulated device whose geometry comes from a config file or
environment overrides, held either in memory or, if device_file is
set, in a flock-guarded file that survives across invocations.`,
	Version: "0.1.0-dev",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to swapctl config file (default: ./swapctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
