package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"swapcore/internal/fingerprint"
	"swapcore/internal/hashutil"
	"swapcore/internal/trailer"
)

var (
	dumpOut  string
	dumpLZ4  bool
	dumpSize uint32
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Request an upgrade on a fresh simulated device and export its trailer snapshot",
	Long: `dump exercises the status trailer in isolation (writeMagic, startStatus,
loadStatus) and writes a compressed diagnostic snapshot of the result,
using snappy by default or lz4 with --lz4.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadDeviceConfig(cfgFile)
		if err != nil {
			return err
		}
		driver, _ := buildSimDriver(cfg, unlimitedBudget)
		area1, _ := driver.Open(1)

		hasher := hashutil.NewSHA256Hasher()
		tr := trailer.New(area1, hasher, cfg.Slot1Capacity, cfg.MaxPages, cfg.PageSize)

		if err := tr.WriteMagic(); err != nil {
			return err
		}

		hashes0 := make([][4]byte, (dumpSize+cfg.PageSize-1)/cfg.PageSize)
		st := &trailer.Status{
			Sizes:  [2]uint32{dumpSize, 0},
			Phase:  trailer.PhaseSlide,
			Hashes: [2][][4]byte{hashes0, nil},
		}
		if err := tr.StartStatus(st); err != nil {
			return err
		}

		loaded, err := tr.LoadStatus()
		if err != nil {
			return err
		}

		codec := trailer.DumpSnappy
		if dumpLZ4 {
			codec = trailer.DumpLZ4
		}
		blob, err := trailer.DumpCompressed(loaded, codec)
		if err != nil {
			return err
		}

		if dumpOut == "" {
			it := fingerprint.NewIterator(loaded.Hashes[0], loaded.Hashes[1])
			total := 0
			for _, ok := it.Next(); ok; _, ok = it.Next() {
				total++
			}
			fmt.Printf("phase=%v seq=%d sizes=%v hashes=%d bytes=%d\n",
				loaded.Phase, loaded.Seq, loaded.Sizes, total, len(blob))
			return nil
		}
		return os.WriteFile(dumpOut, blob, 0o644)
	},
}

func init() {
	dumpCmd.Flags().StringVar(&dumpOut, "out", "", "write the compressed snapshot here instead of printing a summary")
	dumpCmd.Flags().BoolVar(&dumpLZ4, "lz4", false, "use lz4 instead of snappy")
	dumpCmd.Flags().Uint32Var(&dumpSize, "size", 4*512, "slot 0 image size to simulate for the dump")
	rootCmd.AddCommand(dumpCmd)
}
