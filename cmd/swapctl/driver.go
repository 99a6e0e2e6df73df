package main

import (
	"github.com/pkg/errors"

	"swapcore"
	"swapcore/internal/flash"
	"swapcore/internal/swapsim"
)

// buildSimDriver allocates a simulated two-slot device from cfg, with
// a Stepper that allows budget flash operations (callers pass
// unlimitedBudget for an effectively unlimited one).
func buildSimDriver(cfg *deviceConfig, budget int) (*swapsim.Driver, *swapsim.Stepper) {
	stepper := swapsim.NewStepper(budget)
	sectorSize := cfg.PageSize
	return &swapsim.Driver{
		Areas: [2]*swapsim.Area{
			swapsim.NewArea(cfg.Slot0Capacity, sectorSize, stepper),
			swapsim.NewArea(cfg.Slot1Capacity, sectorSize, stepper),
		},
	}, stepper
}

// fileDriver wraps both slots' FileAreas, carved from one locked
// Device, behind flash.Driver.
type fileDriver struct {
	device *swapsim.Device
	areas  [2]*swapsim.FileArea
}

func (d *fileDriver) Open(slot int) (flash.Area, error) {
	if slot < 0 || slot > 1 {
		return nil, errors.Errorf("swapctl: no such slot %d", slot)
	}
	return d.areas[slot], nil
}

func (d *fileDriver) Close() error {
	return d.device.Close()
}

// buildDriver picks a file-backed driver when cfg.DeviceFile is set,
// or falls back to an unlimited-budget in-memory one. It is used by
// every command except simulate, which needs the Stepper's budget to
// model an interrupted power cycle.
func buildDriver(cfg *deviceConfig) (flash.Driver, func() error, error) {
	if cfg.DeviceFile == "" {
		driver, _ := buildSimDriver(cfg, unlimitedBudget)
		return driver, func() error { return nil }, nil
	}
	total := int64(cfg.Slot0Capacity) + int64(cfg.Slot1Capacity)
	device, err := swapsim.OpenDevice(cfg.DeviceFile, total)
	if err != nil {
		return nil, nil, err
	}
	d := &fileDriver{
		device: device,
		areas: [2]*swapsim.FileArea{
			device.Area(0, cfg.Slot0Capacity, cfg.PageSize),
			device.Area(cfg.Slot0Capacity, cfg.Slot1Capacity, cfg.PageSize),
		},
	}
	return d, d.Close, nil
}

func swapConfig(cfg *deviceConfig) *swapcore.Config {
	return &swapcore.Config{
		PageSize:            cfg.PageSize,
		MaxPages:            cfg.MaxPages,
		SlotCapacity:        [2]uint32{cfg.Slot0Capacity, cfg.Slot1Capacity},
		MaxCollisionRetries: cfg.MaxCollisionRetries,
	}
}

const unlimitedBudget = 1 << 30
