package main

import (
	"github.com/spf13/viper"
)

// deviceConfig mirrors swapcore.Config, but as a plain value viper
// can unmarshal from a YAML file or SWAPCTL_-prefixed env vars, the way
// go-apfs's dmg.go wires its config.
type deviceConfig struct {
	PageSize            uint32 `mapstructure:"page_size"`
	MaxPages            int    `mapstructure:"max_pages"`
	Slot0Capacity       uint32 `mapstructure:"slot0_capacity"`
	Slot1Capacity       uint32 `mapstructure:"slot1_capacity"`
	MaxCollisionRetries int    `mapstructure:"max_collision_retries"`
	// DeviceFile, if set, backs both slots with a single flock-guarded
	// file instead of an in-memory Area, so state survives across
	// separate swapctl invocations against the same simulated device.
	DeviceFile string `mapstructure:"device_file"`
}

func loadDeviceConfig(configPath string) (*deviceConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("swapctl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.swapctl")
		v.AddConfigPath("/etc/swapctl")
	}

	v.SetDefault("page_size", 512)
	v.SetDefault("max_pages", 256)
	v.SetDefault("slot0_capacity", 64*1024)
	v.SetDefault("slot1_capacity", 64*1024-512)
	v.SetDefault("max_collision_retries", 4)
	v.SetDefault("device_file", "")

	v.SetEnvPrefix("SWAPCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &deviceConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
